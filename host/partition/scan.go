package partition

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/ardnew/usbstore/pkg"
)

// scanner walks the partition structures of one logical unit.
type scanner struct {
	r           BlockReader
	opts        Options
	blockLength uint32
	blockCount  uint64
	buf         []byte
	volumes     []Volume
}

// Scan discovers the volumes of r. A boot record at LBA 0 yields a single
// superfloppy volume; otherwise LBA 0 is parsed as an MBR, following EBR
// chains and GPT headers it points to.
//
// Malformed structures are skipped and never fail the scan. Scan fails only
// when LBA 0 holds no boot sector (ErrNoBootSector), LBA 0 cannot be read,
// or a read fails in a way that ends all access to the unit.
func Scan(ctx context.Context, r BlockReader, opts Options) ([]Volume, error) {
	s := &scanner{
		r:           r,
		opts:        opts.normalize(),
		blockLength: r.BlockLength(),
		blockCount:  r.BlockCount(),
	}
	if s.blockLength < BootSectorSize || s.blockCount == 0 {
		return nil, fmt.Errorf("%w: %d blocks of %d bytes", pkg.ErrInvalidUnit, s.blockCount, s.blockLength)
	}
	s.buf = make([]byte, s.blockLength)

	if err := s.read(ctx, 0); err != nil {
		return nil, err
	}

	switch class := ClassifyVBR(s.buf, s.blockLength); class {
	case ClassFAT, ClassNTFS:
		pkg.LogDebug(pkg.ComponentPartition, "superfloppy boot record", "class", class)
		s.add(Volume{
			Scheme:     SchemeSuperFloppy,
			BlockCount: s.blockCount,
			Type:       class.FSType(),
		})
		return s.volumes, nil

	case ClassUnsupported:
		var mbr MBR
		if !ParseMBR(s.buf, &mbr) {
			return nil, ErrNoBootSector
		}
		if err := s.scanMBR(ctx, &mbr); err != nil {
			return s.volumes, err
		}
		return s.volumes, nil
	}
	return nil, ErrNoBootSector
}

func (s *scanner) add(v Volume) {
	pkg.LogDebug(pkg.ComponentPartition, "volume found",
		"scheme", v.Scheme,
		"index", v.Index,
		"start", v.StartLBA,
		"blocks", v.BlockCount,
		"type", v.Type)
	s.volumes = append(s.volumes, v)
}

// read loads block lba into s.buf.
func (s *scanner) read(ctx context.Context, lba uint64) error {
	return s.r.ReadBlocks(ctx, lba, 1, s.buf)
}

// fatal reports read errors after which no further block can be read.
func fatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, pkg.ErrUnusable) ||
		errors.Is(err, pkg.ErrNoDevice)
}

// inspect reads the boot record at lba and returns its filesystem family,
// or FSUnsupported when it is not a mountable boot record.
func (s *scanner) inspect(ctx context.Context, lba uint64) (FSType, error) {
	if lba == 0 || lba >= s.blockCount {
		return FSUnsupported, nil
	}
	if err := s.read(ctx, lba); err != nil {
		if fatal(err) {
			return FSUnsupported, err
		}
		pkg.LogWarn(pkg.ComponentPartition, "boot record unreadable", "lba", lba, "error", err)
		return FSUnsupported, nil
	}
	return ClassifyVBR(s.buf, s.blockLength).FSType(), nil
}

// =============================================================================
// MBR / EBR
// =============================================================================

func (s *scanner) scanMBR(ctx context.Context, mbr *MBR) error {
	for i := range mbr.Entries {
		e := &mbr.Entries[i]
		if e.Type == TypeEmpty {
			continue
		}

		switch {
		case e.Type == TypeGPTProtective:
			if err := s.scanGPT(ctx); err != nil {
				return err
			}

		case IsExtendedType(e.Type):
			if err := s.scanEBR(ctx, uint64(e.StartLBA)); err != nil {
				return err
			}

		default:
			if err := s.entry(ctx, SchemeMBR, i+1, 0, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// entry registers the data partition e, whose start is relative to base.
func (s *scanner) entry(ctx context.Context, scheme Scheme, index int, base uint64, e *PartitionEntry) error {
	if e.Empty() {
		return nil
	}
	start := base + uint64(e.StartLBA)
	if start == 0 || start >= s.blockCount {
		pkg.LogDebug(pkg.ComponentPartition, "partition outside unit",
			"index", index,
			"start", start)
		return nil
	}
	v := Volume{
		Scheme:     scheme,
		Index:      index,
		StartLBA:   start,
		BlockCount: min(uint64(e.Sectors), s.blockCount-start),
		MBRType:    e.Type,
	}

	switch {
	case e.Type == TypeLinux:
		v.Type = FSEXT
		pkg.LogInfo(pkg.ComponentPartition, "linux partition", "index", index, "start", start)
		s.add(v)

	case IsFATType(e.Type) || IsNTFSType(e.Type):
		fs, err := s.inspect(ctx, start)
		if err != nil {
			return err
		}
		if fs == FSUnsupported {
			pkg.LogDebug(pkg.ComponentPartition, "no boot record at partition",
				"index", index,
				"type", e.Type)
			return nil
		}
		v.Type = fs
		s.add(v)

	default:
		pkg.LogDebug(pkg.ComponentPartition, "unsupported partition type",
			"index", index,
			"type", e.Type)
	}
	return nil
}

// scanEBR follows the Extended Boot Record chain starting at first. Each
// data entry is relative to its own EBR; each link is relative to first.
func (s *scanner) scanEBR(ctx context.Context, first uint64) error {
	visited := make(map[uint64]struct{})
	index := MBREntryCount
	cur := first

	for link := 0; ; link++ {
		switch {
		case link >= s.opts.MaxEBRChain:
			pkg.LogWarn(pkg.ComponentPartition, "EBR chain too long", "limit", s.opts.MaxEBRChain)
			return nil
		case cur == 0 || cur >= s.blockCount:
			pkg.LogDebug(pkg.ComponentPartition, "EBR outside unit", "lba", cur)
			return nil
		}
		if _, seen := visited[cur]; seen {
			pkg.LogWarn(pkg.ComponentPartition, "EBR chain cycle", "lba", cur)
			return nil
		}
		visited[cur] = struct{}{}

		if err := s.read(ctx, cur); err != nil {
			if fatal(err) {
				return err
			}
			pkg.LogWarn(pkg.ComponentPartition, "EBR unreadable", "lba", cur, "error", err)
			return nil
		}
		var ebr MBR
		if !ParseMBR(s.buf, &ebr) {
			pkg.LogDebug(pkg.ComponentPartition, "EBR unsigned", "lba", cur)
			return nil
		}

		data, next := ebr.Entries[0], ebr.Entries[1]
		index++
		if err := s.entry(ctx, SchemeEBR, index, cur, &data); err != nil {
			return err
		}

		if next.StartLBA == 0 {
			return nil
		}
		if !IsExtendedType(next.Type) {
			pkg.LogDebug(pkg.ComponentPartition, "EBR link with data type",
				"lba", cur,
				"type", next.Type)
		}
		cur = first + uint64(next.StartLBA)
	}
}

// =============================================================================
// GPT
// =============================================================================

// scanGPT parses the primary GPT header at LBA 1, falling back to the backup
// header in the last block.
func (s *scanner) scanGPT(ctx context.Context) error {
	var hdr GPTHeader
	ok, err := s.header(ctx, 1, &hdr)
	if err != nil {
		return err
	}
	if !ok {
		backup := s.blockCount - 1
		pkg.LogWarn(pkg.ComponentPartition, "primary GPT header invalid, trying backup", "lba", backup)
		if ok, err = s.header(ctx, backup, &hdr); err != nil {
			return err
		}
		if !ok {
			pkg.LogWarn(pkg.ComponentPartition, "no valid GPT header")
			return nil
		}
	}
	return s.scanGPTEntries(ctx, &hdr)
}

// header reads and validates the GPT header at lba.
func (s *scanner) header(ctx context.Context, lba uint64, hdr *GPTHeader) (bool, error) {
	if lba < 1 || lba >= s.blockCount {
		return false, nil
	}
	if err := s.read(ctx, lba); err != nil {
		if fatal(err) {
			return false, err
		}
		pkg.LogWarn(pkg.ComponentPartition, "GPT header unreadable", "lba", lba, "error", err)
		return false, nil
	}
	if !ParseGPTHeader(s.buf, hdr) || !hdr.Validate(s.buf, lba, s.blockLength, s.blockCount) {
		pkg.LogDebug(pkg.ComponentPartition, "GPT header rejected", "lba", lba, "error", ErrBadGPT)
		return false, nil
	}
	return true, nil
}

// scanGPTEntries reads the partition array block by block.
func (s *scanner) scanGPTEntries(ctx context.Context, hdr *GPTHeader) error {
	total := int(min(hdr.NumEntries, uint32(s.opts.MaxGPTEntries)))
	perBlock := int(s.blockLength / hdr.EntrySize)
	complete := int(hdr.NumEntries) == total

	type candidate struct {
		index int
		entry GPTEntry
	}
	var (
		candidates []candidate
		crc        uint32
		read       int
	)

	for lba := hdr.EntriesLBA; read < total; lba++ {
		if lba >= s.blockCount {
			pkg.LogWarn(pkg.ComponentPartition, "GPT entry array truncated", "entries", read)
			complete = false
			break
		}
		if err := s.read(ctx, lba); err != nil {
			if fatal(err) {
				return err
			}
			pkg.LogWarn(pkg.ComponentPartition, "GPT entries unreadable", "lba", lba, "error", err)
			complete = false
			break
		}

		n := min(perBlock, total-read)
		crc = crc32.Update(crc, crc32.IEEETable, s.buf[:n*int(hdr.EntrySize)])
		for i := 0; i < n; i++ {
			var e GPTEntry
			ParseGPTEntry(s.buf[i*int(hdr.EntrySize):], &e)
			if !e.Unused() {
				candidates = append(candidates, candidate{index: read + i + 1, entry: e})
			}
		}
		read += n
	}

	if complete && crc != hdr.EntriesCRC {
		pkg.LogWarn(pkg.ComponentPartition, "GPT entry array checksum mismatch",
			"stored", hdr.EntriesCRC,
			"computed", crc)
	}

	for _, c := range candidates {
		if err := s.gptEntry(ctx, c.index, &c.entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) gptEntry(ctx context.Context, index int, e *GPTEntry) error {
	if e.FirstLBA == 0 || e.FirstLBA > e.LastLBA || e.LastLBA >= s.blockCount {
		pkg.LogDebug(pkg.ComponentPartition, "GPT entry outside unit",
			"index", index,
			"first", e.FirstLBA,
			"last", e.LastLBA)
		return nil
	}
	v := Volume{
		Scheme:        SchemeGPT,
		Index:         index,
		StartLBA:      e.FirstLBA,
		BlockCount:    e.LastLBA - e.FirstLBA + 1,
		TypeGUID:      e.TypeGUID,
		PartitionGUID: e.PartitionGUID,
		Name:          e.Name,
	}

	switch e.TypeGUID {
	case BasicDataGUID:
		fs, err := s.inspect(ctx, e.FirstLBA)
		if err != nil {
			return err
		}
		if fs == FSUnsupported {
			pkg.LogDebug(pkg.ComponentPartition, "no boot record at GPT partition", "index", index)
			return nil
		}
		v.Type = fs
		s.add(v)

	case LinuxDataGUID:
		v.Type = FSEXT
		pkg.LogInfo(pkg.ComponentPartition, "linux partition",
			"index", index,
			"start", e.FirstLBA,
			"name", e.Name)
		s.add(v)

	default:
		pkg.LogDebug(pkg.ComponentPartition, "unsupported GPT partition type",
			"index", index,
			"type", e.TypeGUID)
	}
	return nil
}
