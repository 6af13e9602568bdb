package bootrecord

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/usbstore/host"
	"github.com/ardnew/usbstore/host/partition"
	"github.com/ardnew/usbstore/pkg"
)

// Kind is the exact filesystem found in a boot record.
type Kind uint8

// Filesystem kinds.
const (
	KindFAT12 Kind = iota + 1
	KindFAT16
	KindFAT32
	KindExFAT
	KindNTFS
)

// String returns the filesystem name.
func (k Kind) String() string {
	switch k {
	case KindFAT12:
		return "FAT12"
	case KindFAT16:
		return "FAT16"
	case KindFAT32:
		return "FAT32"
	case KindExFAT:
		return "exFAT"
	case KindNTFS:
		return "NTFS"
	default:
		return "unknown"
	}
}

// Boot record offsets.
const (
	offBytesPerSector   = 0x0B
	offSectorsPerClus   = 0x0D
	offReservedSectors  = 0x0E
	offNumFATs          = 0x10
	offRootEntries      = 0x11
	offTotalSectors16   = 0x13
	offSectorsPerFAT16  = 0x16
	offTotalSectors32   = 0x20
	offSectorsPerFAT32  = 0x24
	offFAT16Serial      = 0x27
	offFAT16Label       = 0x2B
	offFAT32Serial      = 0x43
	offFAT32Label       = 0x47
	offNTFSTotalSectors = 0x28
	offNTFSSerial       = 0x48
	offExFATLength      = 0x48
	offExFATSerial      = 0x64
	offExFATSectorShift = 0x6C
	offExFATClusShift   = 0x6D
	labelLen            = 11
	noLabel             = "NO NAME"
	fat12MaxClusters    = 4085
)

// Backend mounts FAT and NTFS volumes read-only far enough to report their
// boot record. It does not interpret directories or files.
type Backend struct {
	fs partition.FSType
}

var _ host.Backend = (*Backend)(nil)

// New returns a backend for fs, which must be partition.FSFAT or
// partition.FSNTFS.
func New(fs partition.FSType) *Backend {
	return &Backend{fs: fs}
}

// All returns one backend per filesystem family this package reads.
func All() []host.Backend {
	return []host.Backend{New(partition.FSFAT), New(partition.FSNTFS)}
}

// Type implements host.Backend.
func (b *Backend) Type() partition.FSType { return b.fs }

// Mount implements host.Backend. It reads and decodes the volume's first
// block.
func (b *Backend) Mount(dev host.BlockDevice, flags host.MountFlags) (host.Mount, error) {
	block := make([]byte, dev.BlockLength())
	if err := dev.ReadBlocks(context.Background(), 0, 1, block); err != nil {
		return nil, fmt.Errorf("read boot record: %w", err)
	}
	if got := partition.ClassifyVBR(block, dev.BlockLength()).FSType(); got != b.fs {
		return nil, fmt.Errorf("%w: boot record is %s, backend mounts %s", pkg.ErrNotSupported, got, b.fs)
	}

	v := &Volume{flags: flags}
	if err := v.decode(block, dev.BlockLength()); err != nil {
		return nil, err
	}
	if v.Sectors == 0 || v.Sectors*uint64(v.BytesPerSector) > dev.BlockCount()*uint64(dev.BlockLength()) {
		pkg.LogWarn(pkg.ComponentBackend, "boot record size disagrees with partition",
			"kind", v.Kind,
			"sectors", v.Sectors,
			"blocks", dev.BlockCount())
	}

	pkg.LogInfo(pkg.ComponentBackend, "volume mounted",
		"kind", v.Kind,
		"label", v.Label,
		"serial", fmt.Sprintf("%08X", v.Serial),
		"cluster", humanize.IBytes(uint64(v.ClusterSize)),
		"size", humanize.IBytes(v.Size()))
	return v, nil
}

// Volume is a mounted boot record.
type Volume struct {
	Kind           Kind
	Label          string
	Serial         uint64
	BytesPerSector uint32
	ClusterSize    uint32
	Sectors        uint64

	flags   host.MountFlags
	mutex   sync.Mutex
	mounted bool
}

// Size returns the volume size in bytes as declared by its boot record.
func (v *Volume) Size() uint64 {
	return v.Sectors * uint64(v.BytesPerSector)
}

// ReadOnly reports whether the volume was mounted read-only. Every volume
// of this backend is read-only in practice.
func (v *Volume) ReadOnly() bool {
	return v.flags.Has(host.FlagReadOnly)
}

// Mounted reports whether Unmount has not been called yet.
func (v *Volume) Mounted() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.mounted
}

// Unmount implements host.Mount.
func (v *Volume) Unmount() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if !v.mounted {
		return pkg.ErrNotMounted
	}
	v.mounted = false
	return nil
}

// String returns a one-line description.
func (v *Volume) String() string {
	return fmt.Sprintf("%s %q serial %08X, %s in %s clusters",
		v.Kind, v.Label, v.Serial, humanize.IBytes(v.Size()), humanize.IBytes(uint64(v.ClusterSize)))
}

func (v *Volume) decode(b []byte, blockLength uint32) error {
	le := binary.LittleEndian
	switch {
	case string(b[3:11]) == "EXFAT   ":
		bpsShift, spcShift := b[offExFATSectorShift], b[offExFATClusShift]
		if bpsShift < 9 || bpsShift > 12 || spcShift > 25-bpsShift {
			return fmt.Errorf("%w: exFAT shifts %d/%d", pkg.ErrNotSupported, bpsShift, spcShift)
		}
		v.Kind = KindExFAT
		v.BytesPerSector = 1 << bpsShift
		v.ClusterSize = v.BytesPerSector << spcShift
		v.Sectors = le.Uint64(b[offExFATLength:])
		v.Serial = uint64(le.Uint32(b[offExFATSerial:]))

	case string(b[3:11]) == "NTFS    ":
		v.Kind = KindNTFS
		v.BytesPerSector = uint32(le.Uint16(b[offBytesPerSector:]))
		v.ClusterSize = ntfsClusterSize(b[offSectorsPerClus], v.BytesPerSector)
		v.Sectors = le.Uint64(b[offNTFSTotalSectors:])
		v.Serial = le.Uint64(b[offNTFSSerial:])

	default:
		v.BytesPerSector = uint32(le.Uint16(b[offBytesPerSector:]))
		v.ClusterSize = uint32(b[offSectorsPerClus]) * v.BytesPerSector
		v.Sectors = uint64(le.Uint16(b[offTotalSectors16:]))
		if v.Sectors == 0 {
			v.Sectors = uint64(le.Uint32(b[offTotalSectors32:]))
		}

		if le.Uint16(b[offSectorsPerFAT16:]) == 0 {
			v.Kind = KindFAT32
			v.Serial = uint64(le.Uint32(b[offFAT32Serial:]))
			v.Label = label(b[offFAT32Label : offFAT32Label+labelLen])
		} else {
			v.Kind = fat1xKind(b, v.Sectors)
			v.Serial = uint64(le.Uint32(b[offFAT16Serial:]))
			v.Label = label(b[offFAT16Label : offFAT16Label+labelLen])
		}
	}

	if v.BytesPerSector == 0 || v.BytesPerSector > blockLength {
		return fmt.Errorf("%w: %d-byte sectors on %d-byte blocks", pkg.ErrNotSupported, v.BytesPerSector, blockLength)
	}
	v.mounted = true
	return nil
}

// fat1xKind tells FAT12 from FAT16 by cluster count.
func fat1xKind(b []byte, sectors uint64) Kind {
	le := binary.LittleEndian
	bps := uint64(le.Uint16(b[offBytesPerSector:]))
	spc := uint64(b[offSectorsPerClus])
	if bps == 0 || spc == 0 {
		return KindFAT16
	}
	rootSectors := (uint64(le.Uint16(b[offRootEntries:]))*32 + bps - 1) / bps
	meta := uint64(le.Uint16(b[offReservedSectors:])) +
		uint64(b[offNumFATs])*uint64(le.Uint16(b[offSectorsPerFAT16:])) +
		rootSectors
	if sectors <= meta {
		return KindFAT16
	}
	if (sectors-meta)/spc < fat12MaxClusters {
		return KindFAT12
	}
	return KindFAT16
}

// ntfsClusterSize decodes the NTFS sectors-per-cluster byte, which holds a
// negative power of two for clusters above 64 KiB.
func ntfsClusterSize(spc uint8, bps uint32) uint32 {
	if spc > 0x80 {
		return 1 << (256 - uint32(spc))
	}
	return uint32(spc) * bps
}

func label(b []byte) string {
	s := string(bytes.TrimRight(b, " \x00"))
	if s == noLabel {
		return ""
	}
	return s
}
