package msc

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/usbstore/pkg"
)

// startAttempts bounds TEST UNIT READY polling during Start.
const startAttempts = 3

// LogicalUnit is one SCSI logical unit of a mass-storage interface.
//
// A LogicalUnit shares its Device and is not safe for concurrent use.
type LogicalUnit struct {
	dev   *Device
	index uint8

	deviceType  uint8
	blockCount  uint64
	blockLength uint32
	writeProt   bool
	removable   bool
	ejectable   bool
	started     bool

	vendor   string
	product  string
	revision string
}

// NewLogicalUnit creates an unstarted logical unit.
func NewLogicalUnit(dev *Device, index uint8) *LogicalUnit {
	return &LogicalUnit{dev: dev, index: index}
}

// Start brings the unit up: wait until ready (spinning it up if needed),
// identify it, read its capacity and write-protect state. The unit is usable
// only after Start succeeds.
func (u *LogicalUnit) Start(ctx context.Context) error {
	u.started = false

	if err := u.waitReady(ctx); err != nil {
		return fmt.Errorf("lun %d: %w", u.index, err)
	}

	inq, err := u.dev.Inquiry(ctx, u.index)
	if err != nil {
		return fmt.Errorf("lun %d: inquiry: %w", u.index, err)
	}
	if !inq.Connected() {
		return fmt.Errorf("lun %d: %w: no device connected", u.index, pkg.ErrNoDevice)
	}
	u.deviceType = inq.PeripheralType()
	u.removable = inq.Removable()
	u.ejectable = u.removable
	u.vendor, u.product, u.revision = inq.Vendor(), inq.Product(), inq.Revision()

	if err := u.readCapacity(ctx); err != nil {
		return fmt.Errorf("lun %d: %w", u.index, err)
	}

	u.writeProt = u.senseWriteProtect(ctx)
	u.started = true

	pkg.LogInfo(pkg.ComponentLUN, "logical unit ready",
		"interface", u.dev.t.ID(),
		"lun", u.index,
		"vendor", u.vendor,
		"product", u.product,
		"blocks", u.blockCount,
		"blockLength", u.blockLength,
		"capacity", humanize.IBytes(u.Capacity()),
		"writeProtected", u.writeProt,
		"removable", u.removable)
	return nil
}

// waitReady polls TEST UNIT READY, issuing START STOP UNIT when the unit
// reports NOT READY.
func (u *LogicalUnit) waitReady(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < startAttempts; attempt++ {
		err = u.dev.TestUnitReady(ctx, u.index)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pkg.ErrMediumNotPresent):
			return err
		case errors.Is(err, pkg.ErrNotReady):
			pkg.LogDebug(pkg.ComponentLUN, "unit not ready, starting",
				"lun", u.index)
			if serr := u.dev.StartStopUnit(ctx, u.index, true, false); serr != nil {
				pkg.LogDebug(pkg.ComponentLUN, "start unit failed",
					"lun", u.index,
					"error", serr)
			}
		case errors.Is(err, pkg.ErrUnitAttention):
		default:
			return err
		}
	}
	return fmt.Errorf("test unit ready: %w", err)
}

// readCapacity reads the capacity, escalating to READ CAPACITY (16) when the
// 10-byte form overflows, and validates the geometry.
func (u *LogicalUnit) readCapacity(ctx context.Context) error {
	cap10, err := u.dev.ReadCapacity10(ctx, u.index)
	if err != nil {
		return fmt.Errorf("read capacity (10): %w", err)
	}

	lastLBA, blockLength := uint64(cap10.LastLBA), cap10.BlockLength
	if cap10.LastLBA == ReadCapacity10Overflow {
		cap16, err := u.dev.ReadCapacity16(ctx, u.index)
		if err != nil {
			return fmt.Errorf("read capacity (16): %w", err)
		}
		lastLBA, blockLength = cap16.LastLBA, cap16.BlockLength
	}

	if !ValidGeometry(lastLBA+1, blockLength) || lastLBA == ^uint64(0) {
		return fmt.Errorf("%w: %d blocks of %d bytes", pkg.ErrInvalidUnit, lastLBA+1, blockLength)
	}
	u.blockCount, u.blockLength = lastLBA+1, blockLength
	return nil
}

// senseWriteProtect reads the WP bit with MODE SENSE (6), falling back to
// MODE SENSE (10). Units rejecting both are treated as writable.
func (u *LogicalUnit) senseWriteProtect(ctx context.Context) bool {
	hdr, err := u.dev.ModeSense6(ctx, u.index, ModePageAllPages)
	if err != nil {
		pkg.LogDebug(pkg.ComponentLUN, "mode sense (6) failed",
			"lun", u.index,
			"error", err)
		if !u.dev.t.Usable() {
			return false
		}
		if hdr, err = u.dev.ModeSense10(ctx, u.index, ModePageAllPages); err != nil {
			pkg.LogDebug(pkg.ComponentLUN, "mode sense (10) failed",
				"lun", u.index,
				"error", err)
			return false
		}
	}
	return hdr.WriteProtected()
}

// Stop flushes the unit's cache and stops it, ejecting the medium when eject
// is set and the unit is removable.
func (u *LogicalUnit) Stop(ctx context.Context, eject bool) error {
	if !u.started {
		return nil
	}
	u.started = false

	if !u.writeProt {
		if err := u.dev.SynchronizeCache(ctx, u.index); err != nil {
			pkg.LogDebug(pkg.ComponentLUN, "synchronize cache failed",
				"lun", u.index,
				"error", err)
		}
	}
	if err := u.dev.StartStopUnit(ctx, u.index, false, eject && u.ejectable); err != nil {
		return fmt.Errorf("lun %d: stop: %w", u.index, err)
	}
	return nil
}

// ValidGeometry reports whether a unit with the given geometry can be used:
// at least one block, and a power-of-two block length of 512 to 4096 bytes.
func ValidGeometry(blockCount uint64, blockLength uint32) bool {
	return blockCount > 0 &&
		blockLength >= MinBlockLength &&
		blockLength <= MaxBlockLength &&
		bits.OnesCount32(blockLength) == 1
}

// =============================================================================
// Block Access
// =============================================================================

// ReadBlocks reads count blocks at lba into buf, which must be exactly
// count*BlockLength bytes.
func (u *LogicalUnit) ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if err := u.checkRange(lba, count, buf); err != nil {
		return err
	}
	return u.chunked(lba, count, buf, func(lba uint64, n uint32, b []byte) error {
		return u.dev.Read(ctx, u.index, lba, n, b)
	})
}

// WriteBlocks writes count blocks at lba from buf.
func (u *LogicalUnit) WriteBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if err := u.checkRange(lba, count, buf); err != nil {
		return err
	}
	if u.writeProt {
		return pkg.ErrWriteProtected
	}
	return u.chunked(lba, count, buf, func(lba uint64, n uint32, b []byte) error {
		return u.dev.Write(ctx, u.index, lba, n, b)
	})
}

func (u *LogicalUnit) checkRange(lba uint64, count uint32, buf []byte) error {
	switch {
	case !u.started:
		return fmt.Errorf("lun %d: %w", u.index, pkg.ErrNotReady)
	case count == 0:
		return pkg.ErrInvalidParameter
	case uint64(len(buf)) != uint64(count)*uint64(u.blockLength):
		return fmt.Errorf("%w: %d bytes for %d blocks of %d", pkg.ErrBufferTooSmall, len(buf), count, u.blockLength)
	case lba >= u.blockCount || uint64(count) > u.blockCount-lba:
		return fmt.Errorf("%w: %d+%d > %d", pkg.ErrOutOfRange, lba, count, u.blockCount)
	}
	return nil
}

// chunked splits a transfer into commands of at most MaxTransferSize bytes.
func (u *LogicalUnit) chunked(lba uint64, count uint32, buf []byte, fn func(uint64, uint32, []byte) error) error {
	per := uint32(MaxTransferSize) / u.blockLength
	for count > 0 {
		n := min(count, per)
		size := int(n) * int(u.blockLength)
		if err := fn(lba, n, buf[:size]); err != nil {
			return err
		}
		lba += uint64(n)
		count -= n
		buf = buf[size:]
	}
	return nil
}

// =============================================================================
// Accessors
// =============================================================================

// Index returns the logical unit number.
func (u *LogicalUnit) Index() uint8 { return u.index }

// Started reports whether Start succeeded and Stop has not been called.
func (u *LogicalUnit) Started() bool { return u.started }

// DeviceType returns the INQUIRY peripheral device type.
func (u *LogicalUnit) DeviceType() uint8 { return u.deviceType }

// BlockCount returns the number of addressable blocks.
func (u *LogicalUnit) BlockCount() uint64 { return u.blockCount }

// BlockLength returns the block length in bytes.
func (u *LogicalUnit) BlockLength() uint32 { return u.blockLength }

// Capacity returns the capacity in bytes.
func (u *LogicalUnit) Capacity() uint64 { return u.blockCount * uint64(u.blockLength) }

// WriteProtected reports the medium's write-protect state.
func (u *LogicalUnit) WriteProtected() bool { return u.writeProt }

// Removable reports whether the medium is removable.
func (u *LogicalUnit) Removable() bool { return u.removable }

// Ejectable reports whether Stop can eject the medium.
func (u *LogicalUnit) Ejectable() bool { return u.ejectable }

// Vendor returns the INQUIRY vendor identification.
func (u *LogicalUnit) Vendor() string { return u.vendor }

// Product returns the INQUIRY product identification.
func (u *LogicalUnit) Product() string { return u.product }

// Revision returns the INQUIRY product revision.
func (u *LogicalUnit) Revision() string { return u.revision }

// Usable reports whether the unit is started and its transport still works.
func (u *LogicalUnit) Usable() bool { return u.started && u.dev.t.Usable() }
