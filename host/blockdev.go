package host

import (
	"context"
	"fmt"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/pkg"
)

// blockDevice is the BlockDevice of one volume, bounded to the volume's
// blocks on its logical unit.
type blockDevice struct {
	drive    *Drive
	lun      *msc.LogicalUnit
	start    uint64
	count    uint64
	readOnly bool
}

var _ BlockDevice = (*blockDevice)(nil)

func (b *blockDevice) BlockLength() uint32 { return b.lun.BlockLength() }

func (b *blockDevice) StartLBA() uint64 { return b.start }

func (b *blockDevice) BlockCount() uint64 { return b.count }

func (b *blockDevice) ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if err := b.check(lba, count); err != nil {
		return err
	}
	return b.lun.ReadBlocks(ctx, b.start+lba, count, buf)
}

func (b *blockDevice) WriteBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error {
	if b.readOnly {
		return pkg.ErrWriteProtected
	}
	if err := b.check(lba, count); err != nil {
		return err
	}
	return b.lun.WriteBlocks(ctx, b.start+lba, count, buf)
}

func (b *blockDevice) check(lba uint64, count uint32) error {
	if b.drive.dead {
		return pkg.ErrNoDevice
	}
	if lba >= b.count || uint64(count) > b.count-lba {
		return fmt.Errorf("%w: %d+%d beyond %d blocks", pkg.ErrOutOfRange, lba, count, b.count)
	}
	return nil
}
