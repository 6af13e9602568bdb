package partition

import (
	"encoding/binary"
	"math/bits"
)

// Boot sector layout.
const (
	BootSectorSize    = 512
	BootSignature     = 0xAA55
	bootSignatureOff  = 0x1FE
	oemNameOff        = 0x03
	bpbBytesPerSector = 0x0B
	bpbSectorsPerClus = 0x0D
	bpbNumFATs        = 0x10
	bpbRootEntries    = 0x11
	bpbSectorsPerFAT  = 0x16
	fat32FSTypeOff    = 0x52
	fsTypeLen         = 8
)

// Identification strings.
const (
	oemExFAT  = "EXFAT   "
	oemNTFS   = "NTFS    "
	typeFAT32 = "FAT32   "
)

// Class is the classification of a candidate volume boot record.
type Class uint8

// Boot record classes.
const (
	// ClassInvalid is not a boot sector.
	ClassInvalid Class = iota

	// ClassFAT is a FAT12/16/32 or exFAT boot record.
	ClassFAT

	// ClassNTFS is an NTFS boot record.
	ClassNTFS

	// ClassUnsupported carries a boot signature but no recognized boot
	// record; at LBA 0 it is parsed as a partition table.
	ClassUnsupported
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassFAT:
		return "fat"
	case ClassNTFS:
		return "ntfs"
	case ClassUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// FSType returns the filesystem family of a mountable class.
func (c Class) FSType() FSType {
	switch c {
	case ClassFAT:
		return FSFAT
	case ClassNTFS:
		return FSNTFS
	default:
		return FSUnsupported
	}
}

// ClassifyVBR classifies block, the first block of a candidate volume. The
// result depends only on block and blockLength.
func ClassifyVBR(block []byte, blockLength uint32) Class {
	if len(block) < BootSectorSize {
		return ClassInvalid
	}

	signed := binary.LittleEndian.Uint16(block[bootSignatureOff:]) == BootSignature
	jump := block[0] == 0xEB || block[0] == 0xE9 || block[0] == 0xE8
	oem := block[oemNameOff : oemNameOff+fsTypeLen]

	switch {
	case signed && string(oem) == oemExFAT:
		return ClassFAT
	case signed && string(oem) == oemNTFS:
		return ClassNTFS
	case jump && string(block[fat32FSTypeOff:fat32FSTypeOff+fsTypeLen]) == typeFAT32:
		return ClassFAT
	case jump && legacyBPB(block, blockLength):
		return ClassFAT
	case signed:
		return ClassUnsupported
	}
	return ClassInvalid
}

// legacyBPB reports whether the FAT12/16 BIOS Parameter Block fields of block
// are consistent with each other and with blockLength.
func legacyBPB(block []byte, blockLength uint32) bool {
	bytesPerSector := uint32(binary.LittleEndian.Uint16(block[bpbBytesPerSector:]))
	sectorsPerCluster := block[bpbSectorsPerClus]
	numFATs := block[bpbNumFATs]
	rootEntries := binary.LittleEndian.Uint16(block[bpbRootEntries:])
	sectorsPerFAT := binary.LittleEndian.Uint16(block[bpbSectorsPerFAT:])

	return bytesPerSector != 0 &&
		bits.OnesCount32(bytesPerSector) == 1 &&
		bytesPerSector <= blockLength &&
		sectorsPerCluster != 0 &&
		bits.OnesCount8(sectorsPerCluster) == 1 &&
		(numFATs == 1 || numFATs == 2) &&
		rootEntries != 0 &&
		sectorsPerFAT != 0
}
