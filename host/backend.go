package host

import (
	"context"

	"github.com/ardnew/usbstore/host/partition"
)

// Backend mounts volumes of one filesystem family.
type Backend interface {
	// Type returns the filesystem family the backend mounts.
	Type() partition.FSType

	// Mount attaches to the volume behind dev. dev may be used only until
	// Mount returns and, later, inside Manager.WithVolume callbacks.
	Mount(dev BlockDevice, flags MountFlags) (Mount, error)
}

// Mount is a mounted filesystem returned by a Backend.
type Mount interface {
	// Unmount detaches from the volume. It runs while the owning drive is
	// locked; the device may be gone, so it must not require I/O to succeed.
	Unmount() error
}

// BlockDevice is the block access a backend gets to one volume.
//
// Addresses are relative to the start of the volume. A BlockDevice is valid
// only while the drive that owns it is locked by the Manager.
type BlockDevice interface {
	// BlockLength returns the size of one block in bytes.
	BlockLength() uint32

	// StartLBA returns the first block of the volume on its logical unit.
	StartLBA() uint64

	// BlockCount returns the number of blocks in the volume.
	BlockCount() uint64

	// ReadBlocks reads count blocks at lba into buf, which holds exactly
	// count blocks.
	ReadBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error

	// WriteBlocks writes count blocks from buf at lba.
	WriteBlocks(ctx context.Context, lba uint64, count uint32, buf []byte) error
}

// DeviceTable is an external registry of "name:" prefixes, such as a virtual
// filesystem switch. The Manager adds an entry for every mounted volume and
// removes it once the volume is unmounted.
type DeviceTable interface {
	Add(name string, h VolumeHandle) error
	Remove(name string) error
}

// nopTable is the DeviceTable used when none is configured.
type nopTable struct{}

func (nopTable) Add(string, VolumeHandle) error { return nil }

func (nopTable) Remove(string) error { return nil }
