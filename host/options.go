package host

import (
	"time"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/partition"
	"github.com/ardnew/usbstore/pkg/usbid"
)

// Manager limits.
const (
	// DefaultMaxDrives bounds the drives a Manager owns at once.
	DefaultMaxDrives = 32

	// MaxVolumesPerDrive bounds the volumes mounted from one drive.
	MaxVolumesPerDrive = 64

	// DefaultNamePrefix prefixes mount names: ums0, ums1, ...
	DefaultNamePrefix = "ums"
)

// Options configures a Manager.
type Options struct {
	// Timeout limits each USB transfer.
	Timeout time.Duration

	// MountFlags are the initial mount flags.
	MountFlags MountFlags

	// Backends mount discovered volumes, selected by filesystem family.
	// Volumes without a backend are not mounted.
	Backends []Backend

	// DeviceTable receives the name of every mounted volume. Nil disables it.
	DeviceTable DeviceTable

	// Partition bounds the partition parser.
	Partition partition.Options

	// NamePrefix prefixes mount names.
	NamePrefix string

	// MaxDrives bounds the drives owned at once.
	MaxDrives int

	// IDs supplies vendor and product names for devices without string
	// descriptors. Nil disables the lookup.
	IDs *usbid.Database
}

// DefaultOptions returns the default Manager configuration.
func DefaultOptions() Options {
	return Options{
		Timeout:    msc.DefaultTimeout,
		MountFlags: DefaultMountFlags,
		Partition:  partition.DefaultOptions(),
		NamePrefix: DefaultNamePrefix,
		MaxDrives:  DefaultMaxDrives,
	}
}

func (o Options) normalize() Options {
	if o.Timeout <= 0 {
		o.Timeout = msc.DefaultTimeout
	}
	if o.DeviceTable == nil {
		o.DeviceTable = nopTable{}
	}
	if o.NamePrefix == "" {
		o.NamePrefix = DefaultNamePrefix
	}
	if o.MaxDrives <= 0 {
		o.MaxDrives = DefaultMaxDrives
	}
	return o
}

// backend returns the backend mounting fs, or nil.
func (o *Options) backend(fs partition.FSType) Backend {
	for _, b := range o.Backends {
		if b.Type() == fs {
			return b
		}
	}
	return nil
}
