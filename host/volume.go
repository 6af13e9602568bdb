package host

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/host/partition"
)

// VolumeContext is a mounted volume. It is reachable only inside
// Manager.WithVolume and Manager.WithPath callbacks, while its drive is
// locked, and must not be retained after the callback returns.
type VolumeContext struct {
	drive   *Drive
	lun     *msc.LogicalUnit
	index   int // Position among the volumes of its drive
	part    partition.Volume
	backend Backend
	mount   Mount
	dev     *blockDevice
	flags   MountFlags

	name   string
	handle VolumeHandle
	cwd    string
}

// Name returns the mount name.
func (v *VolumeContext) Name() string { return v.name }

// Handle returns the volume's handle.
func (v *VolumeContext) Handle() VolumeHandle { return v.handle }

// Type returns the filesystem family of the mounted backend.
func (v *VolumeContext) Type() partition.FSType { return v.backend.Type() }

// Partition returns the partition the volume was discovered in.
func (v *VolumeContext) Partition() partition.Volume { return v.part }

// Mount returns the backend's mount.
func (v *VolumeContext) Mount() Mount { return v.mount }

// Device returns the volume's block access.
func (v *VolumeContext) Device() BlockDevice { return v.dev }

// Flags returns the flags the volume was mounted with.
func (v *VolumeContext) Flags() MountFlags { return v.flags }

// LUN returns the logical unit index holding the volume.
func (v *VolumeContext) LUN() uint8 { return v.lun.Index() }

// Cwd returns the volume's current directory.
func (v *VolumeContext) Cwd() string { return v.cwd }

// info snapshots the volume. The fields read are fixed once the volume is
// published, so the drive lock is not needed.
func (v *VolumeContext) info() VolumeInfo {
	d := v.drive
	return VolumeInfo{
		ID:             d.info.ID,
		LUN:            v.lun.Index(),
		Index:          v.index,
		WriteProtected: v.lun.WriteProtected(),
		Vendor:         d.vendor,
		Product:        d.product,
		Serial:         d.info.Serial,
		VendorID:       d.info.VendorID,
		ProductID:      d.info.ProductID,
		Capacity:       v.part.BlockCount * uint64(v.lun.BlockLength()),
		UnitCapacity:   v.lun.Capacity(),
		Name:           v.name,
		Type:           v.Type(),
		Flags:          v.flags,
		Handle:         v.handle,
	}
}

// VolumeInfo is a snapshot of a mounted volume.
type VolumeInfo struct {
	ID             hal.InterfaceID
	LUN            uint8
	Index          int
	WriteProtected bool
	Vendor         string
	Product        string
	Serial         string
	VendorID       uint16
	ProductID      uint16
	Capacity       uint64 // Bytes in the volume's partition
	UnitCapacity   uint64 // Bytes in the whole logical unit
	Name           string
	Type           partition.FSType
	Flags          MountFlags
	Handle         VolumeHandle
}

// String returns a one-line description of the volume.
func (i VolumeInfo) String() string {
	return fmt.Sprintf("%s: %s %s %s [%04x:%04x] lun %d, %s (%s)",
		i.Name,
		i.Type,
		i.Vendor,
		i.Product,
		i.VendorID,
		i.ProductID,
		i.LUN,
		humanize.IBytes(i.Capacity),
		i.Flags)
}
