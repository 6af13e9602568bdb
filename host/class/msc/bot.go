package msc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbstore/pkg"
)

// Direction is the direction of a command's data stage.
type Direction uint8

// Data stage directions.
const (
	DirectionNone Direction = iota // No data stage
	DirectionIn                    // Device to host
	DirectionOut                   // Host to device
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "none"
	}
}

// CommandBlockWrapper represents a Command Block Wrapper in Bulk-Only Transport.
type CommandBlockWrapper struct {
	Signature          uint32   // Must be CBWSignature (0x43425355)
	Tag                uint32   // Command block tag
	DataTransferLength uint32   // Number of bytes to transfer in data phase
	Flags              uint8    // Direction flag (bit 7: 0=Out, 1=In)
	LUN                uint8    // Logical Unit Number (bits 0-3)
	CBLength           uint8    // Command block length (1-16)
	CB                 [16]byte // Command block (SCSI CDB)
}

// NewCBW builds a wrapper for cdb addressed to lun.
func NewCBW(tag uint32, lun uint8, cdb []byte, dir Direction, length uint32) CommandBlockWrapper {
	cbw := CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                tag,
		DataTransferLength: length,
		LUN:                lun & 0x0F,
	}
	cbw.CBLength = uint8(copy(cbw.CB[:], cdb))
	if dir == DirectionIn {
		cbw.Flags = CBWFlagDataIn
	}
	return cbw
}

// ParseCBW parses a Command Block Wrapper from raw bytes.
// Returns false if data is not exactly CBWSize bytes or the signature or
// command block length is invalid.
func ParseCBW(data []byte, out *CommandBlockWrapper) bool {
	if len(data) != CBWSize {
		return false
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return false
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	return out.CBLength >= 1 && out.CBLength <= CBWMaxCBLength
}

// MarshalTo writes the wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], cbw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])

	return CBWSize
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// Opcode returns the SCSI operation code of the wrapped command.
func (cbw *CommandBlockWrapper) Opcode() uint8 {
	return cbw.CB[0]
}

// CommandStatusWrapper represents a Command Status Wrapper in Bulk-Only Transport.
type CommandStatusWrapper struct {
	Signature   uint32 // Must be CSWSignature (0x53425355)
	Tag         uint32 // Must match the CBW tag
	DataResidue uint32 // Difference between expected and actual data transfer
	Status      uint8  // Command status (CSWStatus*)
}

// NewCSW creates a new Command Status Wrapper with the given parameters.
func NewCSW(tag uint32, residue uint32, status uint8) CommandStatusWrapper {
	return CommandStatusWrapper{
		Signature:   CSWSignature,
		Tag:         tag,
		DataResidue: residue,
		Status:      status,
	}
}

// ParseCSW decodes a status wrapper without validating it.
// Returns false if data is not exactly CSWSize bytes.
func ParseCSW(data []byte, out *CommandStatusWrapper) bool {
	if len(data) != CSWSize {
		return false
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]

	return true
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}

// Validate checks that csw answers the command with the given tag and
// expected data length. Any mismatch, and a phase-error status, is reported
// as pkg.ErrPhase.
func (csw *CommandStatusWrapper) Validate(tag, expected uint32) error {
	switch {
	case csw.Signature != CSWSignature:
		return fmt.Errorf("%w: CSW signature 0x%08X", pkg.ErrPhase, csw.Signature)
	case csw.Tag != tag:
		return fmt.Errorf("%w: CSW tag 0x%08X, want 0x%08X", pkg.ErrPhase, csw.Tag, tag)
	case csw.Status > CSWStatusPhaseError:
		return fmt.Errorf("%w: CSW status 0x%02X", pkg.ErrPhase, csw.Status)
	case csw.Status == CSWStatusPhaseError:
		return fmt.Errorf("%w: reported by device", pkg.ErrPhase)
	case csw.DataResidue > expected:
		return fmt.Errorf("%w: residue %d exceeds %d", pkg.ErrPhase, csw.DataResidue, expected)
	}
	return nil
}
