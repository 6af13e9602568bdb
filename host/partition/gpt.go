package partition

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"unicode/utf16"

	"github.com/google/uuid"
)

// GPT layout.
const (
	GPTSignature       = "EFI PART"
	GPTRevision        = 0x00010000
	GPTHeaderSize      = 92
	GPTEntrySize       = 128
	gptNameOff         = 56
	gptNameLen         = 72
	gptHeaderCRCOffset = 16
)

// Partition type GUIDs.
var (
	// BasicDataGUID marks Microsoft basic data partitions (FAT, exFAT, NTFS).
	BasicDataGUID = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")

	// LinuxDataGUID marks Linux filesystem data partitions.
	LinuxDataGUID = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
)

// GPTHeader is a GUID Partition Table header.
type GPTHeader struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC      uint32
	MyLBA          uint64
	AlternateLBA   uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       uuid.UUID
	EntriesLBA     uint64
	NumEntries     uint32
	EntrySize      uint32
	EntriesCRC     uint32
}

// ParseGPTHeader decodes a GPT header without validating it.
// Returns false if block is shorter than GPTHeaderSize.
func ParseGPTHeader(block []byte, out *GPTHeader) bool {
	if len(block) < GPTHeaderSize {
		return false
	}

	copy(out.Signature[:], block[0:8])
	out.Revision = binary.LittleEndian.Uint32(block[8:12])
	out.HeaderSize = binary.LittleEndian.Uint32(block[12:16])
	out.HeaderCRC = binary.LittleEndian.Uint32(block[16:20])
	out.MyLBA = binary.LittleEndian.Uint64(block[24:32])
	out.AlternateLBA = binary.LittleEndian.Uint64(block[32:40])
	out.FirstUsableLBA = binary.LittleEndian.Uint64(block[40:48])
	out.LastUsableLBA = binary.LittleEndian.Uint64(block[48:56])
	out.DiskGUID = GUIDFromBytes(block[56:72])
	out.EntriesLBA = binary.LittleEndian.Uint64(block[72:80])
	out.NumEntries = binary.LittleEndian.Uint32(block[80:84])
	out.EntrySize = binary.LittleEndian.Uint32(block[84:88])
	out.EntriesCRC = binary.LittleEndian.Uint32(block[88:92])

	return true
}

// MarshalTo writes the header into block with HeaderSize set to
// GPTHeaderSize and a freshly computed header checksum.
// Returns the number of bytes written, or 0 if block is too small.
func (h *GPTHeader) MarshalTo(block []byte) int {
	if len(block) < GPTHeaderSize {
		return 0
	}

	h.HeaderSize = GPTHeaderSize
	clear(block[:GPTHeaderSize])
	copy(block[0:8], h.Signature[:])
	binary.LittleEndian.PutUint32(block[8:12], h.Revision)
	binary.LittleEndian.PutUint32(block[12:16], h.HeaderSize)
	binary.LittleEndian.PutUint64(block[24:32], h.MyLBA)
	binary.LittleEndian.PutUint64(block[32:40], h.AlternateLBA)
	binary.LittleEndian.PutUint64(block[40:48], h.FirstUsableLBA)
	binary.LittleEndian.PutUint64(block[48:56], h.LastUsableLBA)
	GUIDToBytes(block[56:72], h.DiskGUID)
	binary.LittleEndian.PutUint64(block[72:80], h.EntriesLBA)
	binary.LittleEndian.PutUint32(block[80:84], h.NumEntries)
	binary.LittleEndian.PutUint32(block[84:88], h.EntrySize)
	binary.LittleEndian.PutUint32(block[88:92], h.EntriesCRC)

	h.HeaderCRC = HeaderChecksum(block[:GPTHeaderSize])
	binary.LittleEndian.PutUint32(block[16:20], h.HeaderCRC)
	return GPTHeaderSize
}

// HeaderChecksum returns the CRC32 of a raw header with its checksum field
// taken as zero.
func HeaderChecksum(raw []byte) uint32 {
	var zero [4]byte
	crc := crc32.ChecksumIEEE(raw[:gptHeaderCRCOffset])
	crc = crc32.Update(crc, crc32.IEEETable, zero[:])
	return crc32.Update(crc, crc32.IEEETable, raw[gptHeaderCRCOffset+4:])
}

// Validate checks a header read from lba of a unit with the given geometry.
// raw is the block the header was decoded from.
func (h *GPTHeader) Validate(raw []byte, lba uint64, blockLength uint32, blockCount uint64) bool {
	switch {
	case string(h.Signature[:]) != GPTSignature:
		return false
	case h.HeaderSize < GPTHeaderSize || h.HeaderSize > blockLength || int(h.HeaderSize) > len(raw):
		return false
	case HeaderChecksum(raw[:h.HeaderSize]) != h.HeaderCRC:
		return false
	case h.MyLBA != lba:
		return false
	case h.EntrySize%GPTEntrySize != 0 || bits.OnesCount32(h.EntrySize/GPTEntrySize) != 1 || h.EntrySize > blockLength:
		return false
	case h.EntriesLBA < 2 || h.EntriesLBA >= blockCount:
		return false
	}
	return true
}

// GPTEntry is one GUID Partition Table entry.
type GPTEntry struct {
	TypeGUID      uuid.UUID
	PartitionGUID uuid.UUID
	FirstLBA      uint64
	LastLBA       uint64
	Attributes    uint64
	Name          string
}

// Unused reports whether the entry is empty.
func (e *GPTEntry) Unused() bool {
	return e.TypeGUID == uuid.Nil
}

// ParseGPTEntry decodes a partition entry. Returns false if data is shorter
// than GPTEntrySize.
func ParseGPTEntry(data []byte, out *GPTEntry) bool {
	if len(data) < GPTEntrySize {
		return false
	}

	out.TypeGUID = GUIDFromBytes(data[0:16])
	out.PartitionGUID = GUIDFromBytes(data[16:32])
	out.FirstLBA = binary.LittleEndian.Uint64(data[32:40])
	out.LastLBA = binary.LittleEndian.Uint64(data[40:48])
	out.Attributes = binary.LittleEndian.Uint64(data[48:56])
	out.Name = decodeName(data[gptNameOff : gptNameOff+gptNameLen])

	return true
}

// MarshalTo writes the entry into data.
// Returns the number of bytes written, or 0 if data is too small.
func (e *GPTEntry) MarshalTo(data []byte) int {
	if len(data) < GPTEntrySize {
		return 0
	}

	clear(data[:GPTEntrySize])
	GUIDToBytes(data[0:16], e.TypeGUID)
	GUIDToBytes(data[16:32], e.PartitionGUID)
	binary.LittleEndian.PutUint64(data[32:40], e.FirstLBA)
	binary.LittleEndian.PutUint64(data[40:48], e.LastLBA)
	binary.LittleEndian.PutUint64(data[48:56], e.Attributes)
	name := utf16.Encode([]rune(e.Name))
	for i := 0; i < len(name) && i < gptNameLen/2; i++ {
		binary.LittleEndian.PutUint16(data[gptNameOff+2*i:], name[i])
	}

	return GPTEntrySize
}

// decodeName converts a NUL-terminated UTF-16LE name.
func decodeName(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// GUIDFromBytes converts an on-disk GUID, whose first three fields are
// little-endian, to a uuid.UUID.
func GUIDFromBytes(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:16])
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

// GUIDToBytes writes u in on-disk GUID byte order.
func GUIDToBytes(b []byte, u uuid.UUID) {
	copy(b[:16], u[:])
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
}
