package msc

import (
	"encoding/binary"
	"strings"
)

// =============================================================================
// Command Descriptor Blocks
// =============================================================================

// CDB is a SCSI command descriptor block of up to 16 bytes.
type CDB struct {
	b [CBWMaxCBLength]byte
	n uint8
}

// Bytes returns the command block.
func (c *CDB) Bytes() []byte { return c.b[:c.n] }

// Len returns the command block length.
func (c *CDB) Len() int { return int(c.n) }

// Opcode returns the operation code.
func (c *CDB) Opcode() uint8 { return c.b[0] }

func newCDB(opcode uint8, length uint8) CDB {
	c := CDB{n: length}
	c.b[0] = opcode
	return c
}

// TestUnitReadyCDB builds TEST UNIT READY.
func TestUnitReadyCDB() CDB {
	return newCDB(SCSITestUnitReady, 6)
}

// RequestSenseCDB builds REQUEST SENSE with the given allocation length.
func RequestSenseCDB(alloc uint8) CDB {
	c := newCDB(SCSIRequestSense, 6)
	c.b[4] = alloc
	return c
}

// InquiryCDB builds a standard INQUIRY.
func InquiryCDB(alloc uint16) CDB {
	c := newCDB(SCSIInquiry, 6)
	binary.BigEndian.PutUint16(c.b[3:5], alloc)
	return c
}

// ModeSense6CDB builds MODE SENSE (6) for page.
func ModeSense6CDB(page uint8, alloc uint8) CDB {
	c := newCDB(SCSIModeSense6, 6)
	c.b[2] = page & 0x3F
	c.b[4] = alloc
	return c
}

// ModeSense10CDB builds MODE SENSE (10) for page.
func ModeSense10CDB(page uint8, alloc uint16) CDB {
	c := newCDB(SCSIModeSense10, 10)
	c.b[2] = page & 0x3F
	binary.BigEndian.PutUint16(c.b[7:9], alloc)
	return c
}

// StartStopUnitCDB builds START STOP UNIT. loej with !start ejects the medium.
func StartStopUnitCDB(start, loej bool) CDB {
	c := newCDB(SCSIStartStopUnit, 6)
	if start {
		c.b[4] |= StartStopStart
	}
	if loej {
		c.b[4] |= StartStopLoEj
	}
	return c
}

// PreventAllowRemovalCDB builds PREVENT ALLOW MEDIUM REMOVAL.
func PreventAllowRemovalCDB(prevent bool) CDB {
	c := newCDB(SCSIPreventAllowRemoval, 6)
	if prevent {
		c.b[4] = 0x01
	}
	return c
}

// ReadCapacity10CDB builds READ CAPACITY (10).
func ReadCapacity10CDB() CDB {
	return newCDB(SCSIReadCapacity10, 10)
}

// ReadCapacity16CDB builds SERVICE ACTION IN (16) / READ CAPACITY (16).
func ReadCapacity16CDB(alloc uint32) CDB {
	c := newCDB(SCSIServiceActionIn16, 16)
	c.b[1] = ServiceActionReadCapacity16
	binary.BigEndian.PutUint32(c.b[10:14], alloc)
	return c
}

// SynchronizeCache10CDB builds SYNCHRONIZE CACHE (10) for the whole medium.
func SynchronizeCache10CDB() CDB {
	return newCDB(SCSISynchronizeCache10, 10)
}

// Read10CDB builds READ (10).
func Read10CDB(lba uint32, blocks uint16) CDB {
	return rw10CDB(SCSIRead10, lba, blocks)
}

// Write10CDB builds WRITE (10).
func Write10CDB(lba uint32, blocks uint16) CDB {
	return rw10CDB(SCSIWrite10, lba, blocks)
}

// Read16CDB builds READ (16).
func Read16CDB(lba uint64, blocks uint32) CDB {
	return rw16CDB(SCSIRead16, lba, blocks)
}

// Write16CDB builds WRITE (16).
func Write16CDB(lba uint64, blocks uint32) CDB {
	return rw16CDB(SCSIWrite16, lba, blocks)
}

func rw10CDB(opcode uint8, lba uint32, blocks uint16) CDB {
	c := newCDB(opcode, 10)
	binary.BigEndian.PutUint32(c.b[2:6], lba)
	binary.BigEndian.PutUint16(c.b[7:9], blocks)
	return c
}

func rw16CDB(opcode uint8, lba uint64, blocks uint32) CDB {
	c := newCDB(opcode, 16)
	binary.BigEndian.PutUint64(c.b[2:10], lba)
	binary.BigEndian.PutUint32(c.b[10:14], blocks)
	return c
}

// ParseReadWrite extracts the LBA and block count from a READ or WRITE command
// block of either size. Returns false for any other command.
func ParseReadWrite(cb []byte) (lba uint64, blocks uint32, ok bool) {
	if len(cb) == 0 {
		return 0, 0, false
	}
	switch cb[0] {
	case SCSIRead10, SCSIWrite10:
		if len(cb) < 10 {
			return 0, 0, false
		}
		return uint64(binary.BigEndian.Uint32(cb[2:6])), uint32(binary.BigEndian.Uint16(cb[7:9])), true
	case SCSIRead16, SCSIWrite16:
		if len(cb) < 16 {
			return 0, 0, false
		}
		return binary.BigEndian.Uint64(cb[2:10]), binary.BigEndian.Uint32(cb[10:14]), true
	}
	return 0, 0, false
}

// =============================================================================
// INQUIRY
// =============================================================================

// InquiryResponse represents standard INQUIRY data.
type InquiryResponse struct {
	DeviceType       uint8    // Peripheral qualifier (bits 5-7) and device type (bits 0-4)
	RMB              uint8    // Removable media bit (bit 7)
	Version          uint8    // SCSI version
	ResponseFormat   uint8    // Response data format
	AdditionalLength uint8    // Additional length (n-4)
	Flags            [3]uint8 // Various flags
	VendorID         [8]byte  // Vendor identification (ASCII)
	ProductID        [16]byte // Product identification (ASCII)
	ProductRev       [4]byte  // Product revision (ASCII)
}

// NewInquiryResponse creates a standard INQUIRY response.
func NewInquiryResponse(deviceType uint8, removable bool, vendor, product, revision string) InquiryResponse {
	resp := InquiryResponse{
		DeviceType:       deviceType & InquiryTypeMask,
		Version:          InquiryVersionSPC4,
		ResponseFormat:   InquiryResponseFormatSPC,
		AdditionalLength: InquiryStandardSize - 5,
	}
	if removable {
		resp.RMB = InquiryRMB
	}
	padString(resp.VendorID[:], vendor)
	padString(resp.ProductID[:], product)
	padString(resp.ProductRev[:], revision)
	return resp
}

// ParseInquiry decodes INQUIRY data. Identification strings missing from a
// short response are left blank. Returns false if fewer than 5 bytes are
// available.
func ParseInquiry(data []byte, out *InquiryResponse) bool {
	if len(data) < 5 {
		return false
	}
	*out = InquiryResponse{
		DeviceType:       data[0],
		RMB:              data[1] & InquiryRMB,
		Version:          data[2],
		ResponseFormat:   data[3] & 0x0F,
		AdditionalLength: data[4],
	}
	if len(data) > 5 {
		copy(out.Flags[:], data[5:min(len(data), 8)])
	}
	if len(data) > 8 {
		copy(out.VendorID[:], data[8:min(len(data), 16)])
	}
	if len(data) > 16 {
		copy(out.ProductID[:], data[16:min(len(data), 32)])
	}
	if len(data) > 32 {
		copy(out.ProductRev[:], data[32:min(len(data), 36)])
	}
	return true
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}

	buf[0] = r.DeviceType
	buf[1] = r.RMB
	buf[2] = r.Version
	buf[3] = r.ResponseFormat
	buf[4] = r.AdditionalLength
	copy(buf[5:8], r.Flags[:])
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])

	return InquiryStandardSize
}

// PeripheralType returns the peripheral device type.
func (r *InquiryResponse) PeripheralType() uint8 { return r.DeviceType & InquiryTypeMask }

// Connected reports whether the peripheral qualifier says a device is
// attached to this logical unit.
func (r *InquiryResponse) Connected() bool { return r.DeviceType&InquiryQualifierMask == 0 }

// Removable reports the RMB bit.
func (r *InquiryResponse) Removable() bool { return r.RMB&InquiryRMB != 0 }

// Vendor returns the trimmed vendor identification.
func (r *InquiryResponse) Vendor() string { return trimField(r.VendorID[:]) }

// Product returns the trimmed product identification.
func (r *InquiryResponse) Product() string { return trimField(r.ProductID[:]) }

// Revision returns the trimmed product revision.
func (r *InquiryResponse) Revision() string { return trimField(r.ProductRev[:]) }

// =============================================================================
// READ CAPACITY
// =============================================================================

// ReadCapacity10Response represents READ CAPACITY (10) response.
type ReadCapacity10Response struct {
	LastLBA     uint32 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// ParseReadCapacity10 decodes READ CAPACITY (10) data.
func ParseReadCapacity10(data []byte, out *ReadCapacity10Response) bool {
	if len(data) < ReadCapacity10Size {
		return false
	}
	out.LastLBA = binary.BigEndian.Uint32(data[0:4])
	out.BlockLength = binary.BigEndian.Uint32(data[4:8])
	return true
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < ReadCapacity10Size {
		return 0
	}

	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)

	return ReadCapacity10Size
}

// ReadCapacity16Response represents READ CAPACITY (16) response.
type ReadCapacity16Response struct {
	LastLBA     uint64 // Last logical block address
	BlockLength uint32 // Block length in bytes
}

// ParseReadCapacity16 decodes READ CAPACITY (16) data. Only the first 12
// bytes are required.
func ParseReadCapacity16(data []byte, out *ReadCapacity16Response) bool {
	if len(data) < 12 {
		return false
	}
	out.LastLBA = binary.BigEndian.Uint64(data[0:8])
	out.BlockLength = binary.BigEndian.Uint32(data[8:12])
	return true
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity16Response) MarshalTo(buf []byte) int {
	if len(buf) < ReadCapacity16Size {
		return 0
	}

	clear(buf[:ReadCapacity16Size])
	binary.BigEndian.PutUint64(buf[0:8], r.LastLBA)
	binary.BigEndian.PutUint32(buf[8:12], r.BlockLength)

	return ReadCapacity16Size
}

// =============================================================================
// MODE SENSE
// =============================================================================

// ModeParameterHeader is the header of MODE SENSE (6) and (10) data.
type ModeParameterHeader struct {
	ModeDataLength  uint16 // Mode data length (excluding this field)
	MediumType      uint8  // Medium type
	DeviceParam     uint8  // Device-specific parameter
	BlockDescLength uint16 // Block descriptor length
}

// WriteProtected reports the WP bit of the device-specific parameter.
func (h *ModeParameterHeader) WriteProtected() bool {
	return h.DeviceParam&ModeDeviceParamWP != 0
}

// ParseModeSense6 decodes a MODE SENSE (6) header.
func ParseModeSense6(data []byte, out *ModeParameterHeader) bool {
	if len(data) < ModeSense6HeaderSize {
		return false
	}
	out.ModeDataLength = uint16(data[0])
	out.MediumType = data[1]
	out.DeviceParam = data[2]
	out.BlockDescLength = uint16(data[3])
	return true
}

// ParseModeSense10 decodes a MODE SENSE (10) header.
func ParseModeSense10(data []byte, out *ModeParameterHeader) bool {
	if len(data) < ModeSense10HeaderSize {
		return false
	}
	out.ModeDataLength = binary.BigEndian.Uint16(data[0:2])
	out.MediumType = data[2]
	out.DeviceParam = data[3]
	out.BlockDescLength = binary.BigEndian.Uint16(data[6:8])
	return true
}

// MarshalTo6 writes a MODE SENSE (6) header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *ModeParameterHeader) MarshalTo6(buf []byte) int {
	if len(buf) < ModeSense6HeaderSize {
		return 0
	}
	buf[0] = uint8(h.ModeDataLength)
	buf[1] = h.MediumType
	buf[2] = h.DeviceParam
	buf[3] = uint8(h.BlockDescLength)
	return ModeSense6HeaderSize
}

// MarshalTo10 writes a MODE SENSE (10) header to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (h *ModeParameterHeader) MarshalTo10(buf []byte) int {
	if len(buf) < ModeSense10HeaderSize {
		return 0
	}
	binary.BigEndian.PutUint16(buf[0:2], h.ModeDataLength)
	buf[2] = h.MediumType
	buf[3] = h.DeviceParam
	buf[4], buf[5] = 0, 0
	binary.BigEndian.PutUint16(buf[6:8], h.BlockDescLength)
	return ModeSense10HeaderSize
}

// padString fills dst with s, truncated or padded with spaces.
func padString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

// trimField converts a fixed-width ASCII field to a string, dropping NULs,
// non-printable bytes and surrounding spaces.
func trimField(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}
