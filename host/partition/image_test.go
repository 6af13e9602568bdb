package partition

import (
	"context"
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/ardnew/usbstore/pkg"
)

// memDisk is an in-memory BlockReader with optional read failures.
type memDisk struct {
	data        []byte
	blockLength uint32
	fail        map[uint64]error
	reads       int
}

func newMemDisk(blocks uint64, blockLength uint32) *memDisk {
	return &memDisk{
		data:        make([]byte, blocks*uint64(blockLength)),
		blockLength: blockLength,
		fail:        make(map[uint64]error),
	}
}

func (d *memDisk) BlockLength() uint32 { return d.blockLength }

func (d *memDisk) BlockCount() uint64 { return uint64(len(d.data)) / uint64(d.blockLength) }

func (d *memDisk) ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.reads++
	if err, ok := d.fail[lba]; ok {
		return err
	}
	if lba+uint64(count) > d.BlockCount() {
		return pkg.ErrOutOfRange
	}
	off := lba * uint64(d.blockLength)
	copy(buf, d.data[off:off+uint64(count)*uint64(d.blockLength)])
	return nil
}

func (d *memDisk) block(lba uint64) []byte {
	off := lba * uint64(d.blockLength)
	return d.data[off : off+uint64(d.blockLength)]
}

func sign(b []byte) {
	binary.LittleEndian.PutUint16(b[bootSignatureOff:], BootSignature)
}

// fat16VBR writes a FAT16 boot record that lacks a type string.
func fat16VBR(b []byte) {
	copy(b, []byte{0xEB, 0x3C, 0x90})
	copy(b[oemNameOff:], "MSDOS5.0")
	binary.LittleEndian.PutUint16(b[bpbBytesPerSector:], 512)
	b[bpbSectorsPerClus] = 4
	binary.LittleEndian.PutUint16(b[0x0E:], 1)
	b[bpbNumFATs] = 2
	binary.LittleEndian.PutUint16(b[bpbRootEntries:], 512)
	binary.LittleEndian.PutUint16(b[bpbSectorsPerFAT:], 32)
	sign(b)
}

func fat32VBR(b []byte) {
	copy(b, []byte{0xEB, 0x58, 0x90})
	copy(b[oemNameOff:], "MSWIN4.1")
	copy(b[fat32FSTypeOff:], typeFAT32)
	sign(b)
}

func ntfsVBR(b []byte) {
	copy(b, []byte{0xEB, 0x52, 0x90})
	copy(b[oemNameOff:], oemNTFS)
	sign(b)
}

func exfatVBR(b []byte) {
	copy(b, []byte{0xEB, 0x76, 0x90})
	copy(b[oemNameOff:], oemExFAT)
	sign(b)
}

func writeMBR(b []byte, entries ...PartitionEntry) {
	var m MBR
	copy(m.Entries[:], entries)
	m.MarshalTo(b)
}

// writeGPT writes a protective MBR plus primary and backup GPTs holding
// entries, with the full 128-entry array.
func writeGPT(d *memDisk, entries ...GPTEntry) {
	bl := uint64(d.blockLength)
	last := d.BlockCount() - 1
	arrayBlocks := uint64(MaxGPTEntries*GPTEntrySize) / bl

	writeMBR(d.block(0), PartitionEntry{Type: TypeGPTProtective, StartLBA: 1, Sectors: uint32(last)})

	array := make([]byte, MaxGPTEntries*GPTEntrySize)
	for i := range entries {
		entries[i].MarshalTo(array[i*GPTEntrySize:])
	}
	arrayCRC := crc32.ChecksumIEEE(array)

	hdr := GPTHeader{
		Revision:       GPTRevision,
		MyLBA:          1,
		AlternateLBA:   last,
		FirstUsableLBA: 2 + arrayBlocks,
		LastUsableLBA:  last - arrayBlocks - 1,
		DiskGUID:       uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		EntriesLBA:     2,
		NumEntries:     MaxGPTEntries,
		EntrySize:      GPTEntrySize,
		EntriesCRC:     arrayCRC,
	}
	copy(hdr.Signature[:], GPTSignature)
	hdr.MarshalTo(d.block(1))
	copy(d.data[2*bl:], array)

	backup := hdr
	backup.MyLBA, backup.AlternateLBA = last, 1
	backup.EntriesLBA = last - arrayBlocks
	backup.MarshalTo(d.block(last))
	copy(d.data[backup.EntriesLBA*bl:], array)
}
