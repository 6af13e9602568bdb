package partition

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Parser errors.
var (
	// ErrNoBootSector indicates LBA 0 carries neither a boot record nor a
	// partition table.
	ErrNoBootSector = errors.New("no boot sector")

	// ErrBadGPT indicates a GUID Partition Table header that failed
	// validation.
	ErrBadGPT = errors.New("invalid GPT header")
)

// FSType tags the filesystem family of a volume.
type FSType uint8

// Filesystem families.
const (
	FSUnsupported FSType = iota
	FSFAT                // FAT12/16/32 and exFAT
	FSNTFS
	FSEXT // ext2/3/4, reported from partition type only
)

// String returns the family name.
func (t FSType) String() string {
	switch t {
	case FSFAT:
		return "FAT"
	case FSNTFS:
		return "NTFS"
	case FSEXT:
		return "EXT"
	default:
		return "unsupported"
	}
}

// Scheme is the structure a volume was found through.
type Scheme uint8

// Partitioning schemes.
const (
	SchemeSuperFloppy Scheme = iota // Boot record at LBA 0, no table
	SchemeMBR
	SchemeEBR
	SchemeGPT
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeSuperFloppy:
		return "superfloppy"
	case SchemeMBR:
		return "mbr"
	case SchemeEBR:
		return "ebr"
	case SchemeGPT:
		return "gpt"
	default:
		return "unknown"
	}
}

// Volume is one mountable volume discovered on a logical unit.
type Volume struct {
	Scheme     Scheme
	Index      int    // 1-based entry number within its table, 0 for superfloppy
	StartLBA   uint64 // First block of the volume
	BlockCount uint64 // Blocks in the volume, 0 when the table gives no length
	Type       FSType

	MBRType       uint8     // MBR/EBR partition type byte
	TypeGUID      uuid.UUID // GPT partition type
	PartitionGUID uuid.UUID // GPT unique partition GUID
	Name          string    // GPT partition name
}

// BlockReader is the read side of a logical unit.
type BlockReader interface {
	// BlockLength returns the block length in bytes.
	BlockLength() uint32

	// BlockCount returns the number of addressable blocks.
	BlockCount() uint64

	// ReadBlocks reads count blocks at lba into buf, which holds exactly
	// count blocks.
	ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error
}

// Parser limits.
const (
	// DefaultMaxEBRChain bounds the number of extended boot records followed.
	DefaultMaxEBRChain = 128

	// MaxGPTEntries bounds the GPT partition entries read, whatever the
	// header declares.
	MaxGPTEntries = 128
)

// Options tunes a Scan.
type Options struct {
	// MaxEBRChain bounds the EBR links followed per extended partition.
	MaxEBRChain int

	// MaxGPTEntries bounds the GPT entries read. Values above MaxGPTEntries
	// are clamped.
	MaxGPTEntries int
}

// DefaultOptions returns the default parser limits.
func DefaultOptions() Options {
	return Options{
		MaxEBRChain:   DefaultMaxEBRChain,
		MaxGPTEntries: MaxGPTEntries,
	}
}

func (o Options) normalize() Options {
	if o.MaxEBRChain <= 0 {
		o.MaxEBRChain = DefaultMaxEBRChain
	}
	if o.MaxGPTEntries <= 0 || o.MaxGPTEntries > MaxGPTEntries {
		o.MaxGPTEntries = MaxGPTEntries
	}
	return o
}
