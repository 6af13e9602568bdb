package partition

import (
	"encoding/binary"
)

// MBR layout.
const (
	MBREntryCount   = 4
	mbrEntryOffset  = 0x1BE
	mbrEntrySize    = 16
	mbrStatusActive = 0x80
)

// MBR partition type bytes.
const (
	TypeEmpty         = 0x00
	TypeFAT12         = 0x01
	TypeFAT16Small    = 0x04
	TypeExtendedCHS   = 0x05
	TypeFAT16         = 0x06
	TypeNTFS          = 0x07 // NTFS, exFAT
	TypeFAT32CHS      = 0x0B
	TypeFAT32LBA      = 0x0C
	TypeFAT16LBA      = 0x0E
	TypeExtendedLBA   = 0x0F
	TypeHiddenNTFS    = 0x17
	TypeLinux         = 0x83
	TypeExtendedLinux = 0x85
	TypeGPTProtective = 0xEE
)

// PartitionEntry is one 16-byte MBR or EBR partition entry.
type PartitionEntry struct {
	Status   uint8   // 0x80 active
	StartCHS [3]byte // Legacy CHS address of the first sector
	Type     uint8   // Partition type byte
	EndCHS   [3]byte // Legacy CHS address of the last sector
	StartLBA uint32  // First sector, relative to the table's base
	Sectors  uint32  // Number of sectors
}

// Empty reports whether the entry is unused.
func (e *PartitionEntry) Empty() bool {
	return e.Type == TypeEmpty || e.Sectors == 0
}

// Active reports the boot indicator.
func (e *PartitionEntry) Active() bool {
	return e.Status&mbrStatusActive != 0
}

// MBR is a Master Boot Record or Extended Boot Record partition table.
type MBR struct {
	DiskID  uint32 // Disk signature, zero in an EBR
	Entries [MBREntryCount]PartitionEntry
}

// ParseMBR decodes the partition table of block. Returns false unless block
// holds at least 512 bytes ending in the boot signature.
func ParseMBR(block []byte, out *MBR) bool {
	if len(block) < BootSectorSize ||
		binary.LittleEndian.Uint16(block[bootSignatureOff:]) != BootSignature {
		return false
	}

	out.DiskID = binary.LittleEndian.Uint32(block[0x1B8:])
	for i := range out.Entries {
		b := block[mbrEntryOffset+i*mbrEntrySize:]
		e := &out.Entries[i]
		e.Status = b[0]
		copy(e.StartCHS[:], b[1:4])
		e.Type = b[4]
		copy(e.EndCHS[:], b[5:8])
		e.StartLBA = binary.LittleEndian.Uint32(b[8:12])
		e.Sectors = binary.LittleEndian.Uint32(b[12:16])
	}
	return true
}

// MarshalTo writes the partition table and boot signature into block,
// leaving the boot code untouched.
// Returns the number of bytes spanned, or 0 if block is too small.
func (m *MBR) MarshalTo(block []byte) int {
	if len(block) < BootSectorSize {
		return 0
	}

	binary.LittleEndian.PutUint32(block[0x1B8:], m.DiskID)
	for i := range m.Entries {
		b := block[mbrEntryOffset+i*mbrEntrySize:]
		e := &m.Entries[i]
		b[0] = e.Status
		copy(b[1:4], e.StartCHS[:])
		b[4] = e.Type
		copy(b[5:8], e.EndCHS[:])
		binary.LittleEndian.PutUint32(b[8:12], e.StartLBA)
		binary.LittleEndian.PutUint32(b[12:16], e.Sectors)
	}
	binary.LittleEndian.PutUint16(block[bootSignatureOff:], BootSignature)
	return BootSectorSize
}

// IsFATType reports FAT12/16/32 type bytes, including their hidden variants.
func IsFATType(t uint8) bool {
	switch t &^ 0x10 {
	case TypeFAT12, TypeFAT16Small, TypeFAT16, TypeFAT32CHS, TypeFAT32LBA, TypeFAT16LBA:
		return true
	}
	return false
}

// IsNTFSType reports NTFS/exFAT type bytes.
func IsNTFSType(t uint8) bool {
	return t == TypeNTFS || t == TypeHiddenNTFS
}

// IsExtendedType reports type bytes that point to an EBR chain.
func IsExtendedType(t uint8) bool {
	return t == TypeExtendedCHS || t == TypeExtendedLBA || t == TypeExtendedLinux
}
