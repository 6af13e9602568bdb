package msc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbstore/pkg"
)

// SenseData is the decoded result of REQUEST SENSE.
type SenseData struct {
	ResponseCode uint8  // 0x70-0x73
	Key          uint8  // Sense key
	ASC          uint8  // Additional sense code
	ASCQ         uint8  // Additional sense code qualifier
	Information  uint32 // Information field, fixed format only
}

// NewSenseData creates current, fixed-format sense data.
func NewSenseData(key, asc, ascq uint8) SenseData {
	return SenseData{
		ResponseCode: SenseResponseCurrentFixed,
		Key:          key & 0x0F,
		ASC:          asc,
		ASCQ:         ascq,
	}
}

// ParseSense decodes fixed (0x70/0x71) or descriptor (0x72/0x73) sense data.
// Returns false for any other response code or truncated data.
func ParseSense(data []byte, out *SenseData) bool {
	if len(data) < 4 {
		return false
	}
	*out = SenseData{ResponseCode: data[0] & 0x7F}

	switch out.ResponseCode {
	case SenseResponseCurrentFixed, SenseResponseDeferredFixed:
		if len(data) < 8 {
			return false
		}
		out.Key = data[2] & 0x0F
		out.Information = binary.BigEndian.Uint32(data[3:7])
		if len(data) >= 14 {
			out.ASC = data[12]
			out.ASCQ = data[13]
		}
		return true

	case SenseResponseCurrentDescriptor, SenseResponseDeferredDescriptor:
		out.Key = data[1] & 0x0F
		out.ASC = data[2]
		out.ASCQ = data[3]
		return true
	}
	return false
}

// MarshalTo writes fixed-format sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s *SenseData) MarshalTo(buf []byte) int {
	if len(buf) < SenseFixedSize {
		return 0
	}

	clear(buf[:SenseFixedSize])
	buf[0] = SenseResponseCurrentFixed
	buf[2] = s.Key & 0x0F
	binary.BigEndian.PutUint32(buf[3:7], s.Information)
	buf[7] = SenseFixedSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ

	return SenseFixedSize
}

// String formats the sense triple.
func (s SenseData) String() string {
	return fmt.Sprintf("key=0x%X asc=0x%02X ascq=0x%02X", s.Key, s.ASC, s.ASCQ)
}

// Classify maps sense data to one of the pkg sense errors. It returns nil for
// RECOVERED ERROR, where the command completed.
func (s SenseData) Classify() error {
	switch s.Key {
	case SenseRecoveredError:
		return nil
	case SenseNotReady:
		if s.ASC == ASCMediumNotPresent {
			return pkg.ErrMediumNotPresent
		}
		return pkg.ErrNotReady
	case SenseUnitAttention:
		return pkg.ErrUnitAttention
	case SenseIllegalRequest:
		if s.ASC == ASCLBAOutOfRange {
			return pkg.ErrOutOfRange
		}
		return pkg.ErrIllegalRequest
	case SenseMediumError, SenseHardwareError:
		return pkg.ErrMediumError
	case SenseDataProtect:
		if s.ASC == ASCWriteProtected {
			return pkg.ErrWriteProtected
		}
		return pkg.ErrDataProtect
	default:
		return pkg.ErrCommandFailed
	}
}

// SenseError reports a command that completed with a failed status, along
// with the sense data the unit returned for it.
type SenseError struct {
	Opcode uint8
	Sense  SenseData
	err    error
}

// NewSenseError classifies sense for the command with the given opcode.
// A RECOVERED ERROR sense is still reported, as pkg.ErrCommandFailed.
func NewSenseError(opcode uint8, sense SenseData) *SenseError {
	err := sense.Classify()
	if err == nil {
		err = pkg.ErrCommandFailed
	}
	return &SenseError{Opcode: opcode, Sense: sense, err: err}
}

// Error implements error.
func (e *SenseError) Error() string {
	return fmt.Sprintf("scsi 0x%02X: %v (%v)", e.Opcode, e.err, e.Sense)
}

// Unwrap returns the classified sentinel.
func (e *SenseError) Unwrap() error { return e.err }
