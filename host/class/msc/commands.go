package msc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/usbstore/pkg"
)

// smallResponseSize bounds the data stage of every non-block command.
const smallResponseSize = 256

// Device issues SCSI commands to the logical units behind one transport.
//
// Like its Transport, a Device is not safe for concurrent use.
type Device struct {
	t *Transport

	// Buffers (zero-allocation pattern)
	senseBuf [SenseFixedSize]byte
	dataBuf  [smallResponseSize]byte
}

// NewDevice creates a SCSI command layer over t.
func NewDevice(t *Transport) *Device {
	return &Device{t: t}
}

// Transport returns the underlying transport.
func (d *Device) Transport() *Transport { return d.t }

// run executes a command. A failed status is resolved with REQUEST SENSE and
// returned as a *SenseError; a UNIT ATTENTION is retried once silently.
// Returns the number of data bytes the device reported as moved.
func (d *Device) run(ctx context.Context, lun uint8, cdb CDB, dir Direction, data []byte) (int, error) {
	for attempt := 0; ; attempt++ {
		cmd := Command{LUN: lun, CDB: cdb, Direction: dir, Data: data}
		res, err := d.t.Execute(ctx, &cmd)
		n := min(res.Transferred, len(data)-int(min(res.Residue, uint32(len(data)))))
		if err != nil {
			return n, err
		}
		if res.Status == CSWStatusGood {
			return n, nil
		}

		sense, err := d.RequestSense(ctx, lun)
		if err != nil {
			return n, fmt.Errorf("scsi 0x%02X: request sense: %w", cdb.Opcode(), err)
		}
		if sense.Key == SenseRecoveredError {
			return n, nil
		}

		serr := NewSenseError(cdb.Opcode(), sense)
		if attempt == 0 && errors.Is(serr, pkg.ErrUnitAttention) {
			pkg.LogDebug(pkg.ComponentSCSI, "unit attention, retrying",
				"lun", lun,
				"opcode", cdb.Opcode(),
				"sense", sense)
			continue
		}
		pkg.LogDebug(pkg.ComponentSCSI, "command failed",
			"lun", lun,
			"opcode", cdb.Opcode(),
			"sense", sense)
		return n, serr
	}
}

// runSmall executes a command whose response fits dataBuf and returns the
// received bytes.
func (d *Device) runSmall(ctx context.Context, lun uint8, cdb CDB, alloc int) ([]byte, error) {
	n, err := d.run(ctx, lun, cdb, DirectionIn, d.dataBuf[:alloc])
	if err != nil {
		return nil, err
	}
	return d.dataBuf[:n], nil
}

// =============================================================================
// Status Commands
// =============================================================================

// TestUnitReady issues TEST UNIT READY.
func (d *Device) TestUnitReady(ctx context.Context, lun uint8) error {
	_, err := d.run(ctx, lun, TestUnitReadyCDB(), DirectionNone, nil)
	return err
}

// RequestSense issues REQUEST SENSE and decodes the result.
func (d *Device) RequestSense(ctx context.Context, lun uint8) (SenseData, error) {
	var sense SenseData
	cmd := Command{
		LUN:       lun,
		CDB:       RequestSenseCDB(SenseFixedSize),
		Direction: DirectionIn,
		Data:      d.senseBuf[:],
	}
	res, err := d.t.Execute(ctx, &cmd)
	if err != nil {
		return sense, err
	}
	if res.Status != CSWStatusGood {
		return sense, pkg.ErrCommandFailed
	}
	if !ParseSense(d.senseBuf[:res.Transferred], &sense) {
		return sense, fmt.Errorf("%w: sense data (%d bytes)", pkg.ErrProtocol, res.Transferred)
	}
	return sense, nil
}

// Inquiry issues a standard INQUIRY.
func (d *Device) Inquiry(ctx context.Context, lun uint8) (InquiryResponse, error) {
	var resp InquiryResponse
	data, err := d.runSmall(ctx, lun, InquiryCDB(InquiryStandardSize), InquiryStandardSize)
	if err != nil {
		return resp, err
	}
	if !ParseInquiry(data, &resp) {
		return resp, fmt.Errorf("%w: inquiry data (%d bytes)", pkg.ErrProtocol, len(data))
	}
	return resp, nil
}

// ModeSense6 issues MODE SENSE (6) for page and decodes the header.
func (d *Device) ModeSense6(ctx context.Context, lun uint8, page uint8) (ModeParameterHeader, error) {
	var hdr ModeParameterHeader
	data, err := d.runSmall(ctx, lun, ModeSense6CDB(page, ModeSenseAllocLength), ModeSenseAllocLength)
	if err != nil {
		return hdr, err
	}
	if !ParseModeSense6(data, &hdr) {
		return hdr, fmt.Errorf("%w: mode sense (6) data (%d bytes)", pkg.ErrProtocol, len(data))
	}
	return hdr, nil
}

// ModeSense10 issues MODE SENSE (10) for page and decodes the header.
func (d *Device) ModeSense10(ctx context.Context, lun uint8, page uint8) (ModeParameterHeader, error) {
	var hdr ModeParameterHeader
	data, err := d.runSmall(ctx, lun, ModeSense10CDB(page, ModeSenseAllocLength), ModeSenseAllocLength)
	if err != nil {
		return hdr, err
	}
	if !ParseModeSense10(data, &hdr) {
		return hdr, fmt.Errorf("%w: mode sense (10) data (%d bytes)", pkg.ErrProtocol, len(data))
	}
	return hdr, nil
}

// StartStopUnit issues START STOP UNIT.
func (d *Device) StartStopUnit(ctx context.Context, lun uint8, start, loej bool) error {
	_, err := d.run(ctx, lun, StartStopUnitCDB(start, loej), DirectionNone, nil)
	return err
}

// PreventAllowMediumRemoval issues PREVENT ALLOW MEDIUM REMOVAL.
func (d *Device) PreventAllowMediumRemoval(ctx context.Context, lun uint8, prevent bool) error {
	_, err := d.run(ctx, lun, PreventAllowRemovalCDB(prevent), DirectionNone, nil)
	return err
}

// SynchronizeCache issues SYNCHRONIZE CACHE (10) for the whole medium.
func (d *Device) SynchronizeCache(ctx context.Context, lun uint8) error {
	_, err := d.run(ctx, lun, SynchronizeCache10CDB(), DirectionNone, nil)
	return err
}

// =============================================================================
// Capacity Commands
// =============================================================================

// ReadCapacity10 issues READ CAPACITY (10).
func (d *Device) ReadCapacity10(ctx context.Context, lun uint8) (ReadCapacity10Response, error) {
	var resp ReadCapacity10Response
	data, err := d.runSmall(ctx, lun, ReadCapacity10CDB(), ReadCapacity10Size)
	if err != nil {
		return resp, err
	}
	if !ParseReadCapacity10(data, &resp) {
		return resp, fmt.Errorf("%w: read capacity (10) data (%d bytes)", pkg.ErrShortTransfer, len(data))
	}
	return resp, nil
}

// ReadCapacity16 issues READ CAPACITY (16).
func (d *Device) ReadCapacity16(ctx context.Context, lun uint8) (ReadCapacity16Response, error) {
	var resp ReadCapacity16Response
	data, err := d.runSmall(ctx, lun, ReadCapacity16CDB(ReadCapacity16Size), ReadCapacity16Size)
	if err != nil {
		return resp, err
	}
	if !ParseReadCapacity16(data, &resp) {
		return resp, fmt.Errorf("%w: read capacity (16) data (%d bytes)", pkg.ErrShortTransfer, len(data))
	}
	return resp, nil
}

// =============================================================================
// Block Commands
// =============================================================================

// Read10 issues READ (10) into buf, which must hold exactly the requested
// blocks.
func (d *Device) Read10(ctx context.Context, lun uint8, lba uint32, blocks uint16, buf []byte) error {
	return d.block(ctx, lun, Read10CDB(lba, blocks), DirectionIn, buf)
}

// Write10 issues WRITE (10) from buf.
func (d *Device) Write10(ctx context.Context, lun uint8, lba uint32, blocks uint16, buf []byte) error {
	return d.block(ctx, lun, Write10CDB(lba, blocks), DirectionOut, buf)
}

// Read16 issues READ (16) into buf.
func (d *Device) Read16(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) error {
	return d.block(ctx, lun, Read16CDB(lba, blocks), DirectionIn, buf)
}

// Write16 issues WRITE (16) from buf.
func (d *Device) Write16(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) error {
	return d.block(ctx, lun, Write16CDB(lba, blocks), DirectionOut, buf)
}

// Read reads blocks at lba, choosing the 10- or 16-byte command by the range.
func (d *Device) Read(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) error {
	if fits10(lba, blocks) {
		return d.Read10(ctx, lun, uint32(lba), uint16(blocks), buf)
	}
	return d.Read16(ctx, lun, lba, blocks, buf)
}

// Write writes blocks at lba, choosing the 10- or 16-byte command by the range.
func (d *Device) Write(ctx context.Context, lun uint8, lba uint64, blocks uint32, buf []byte) error {
	if fits10(lba, blocks) {
		return d.Write10(ctx, lun, uint32(lba), uint16(blocks), buf)
	}
	return d.Write16(ctx, lun, lba, blocks, buf)
}

// fits10 reports whether the range is addressable by READ/WRITE (10).
func fits10(lba uint64, blocks uint32) bool {
	return blocks <= 0xFFFF && lba+uint64(blocks) <= 1<<32
}

// block runs a block transfer and fails unless every byte moved.
func (d *Device) block(ctx context.Context, lun uint8, cdb CDB, dir Direction, buf []byte) error {
	n, err := d.run(ctx, lun, cdb, dir, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("%w: scsi 0x%02X moved %d of %d bytes", pkg.ErrShortTransfer, cdb.Opcode(), n, len(buf))
	}
	return nil
}
