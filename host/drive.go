package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/host/partition"
	"github.com/ardnew/usbstore/pkg"
)

// Drive is one claimed mass-storage interface with its started logical units
// and mounted volumes.
//
// The mutex serializes every command sequence on the drive. A Drive is torn
// down only with the mutex held, so holding it keeps the drive alive.
type Drive struct {
	mutex sync.Mutex

	info    hal.InterfaceInfo
	vendor  string
	product string

	transport *msc.Transport
	device    *msc.Device
	units     []*msc.LogicalUnit
	volumes   []*VolumeContext

	handle VolumeHandle
	dead   bool
}

// ID returns the drive's interface.
func (d *Drive) ID() hal.InterfaceID { return d.info.ID }

// Vendor returns the vendor name.
func (d *Drive) Vendor() string { return d.vendor }

// Product returns the product name.
func (d *Drive) Product() string { return d.product }

// =============================================================================
// Construction
// =============================================================================

// openDrive claims info's interface and brings up its logical units and
// volumes. On error nothing is left claimed or mounted.
func (m *Manager) openDrive(ctx context.Context, info *hal.InterfaceInfo) (*Drive, error) {
	if err := m.hal.Claim(info.ID); err != nil {
		return nil, fmt.Errorf("claim %s: %w", info.ID, err)
	}

	d := &Drive{info: *info}
	d.transport = msc.NewTransport(m.hal, info)
	d.transport.SetTimeout(m.opts.Timeout)
	d.device = msc.NewDevice(d.transport)

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := m.startUnits(ctx, d); err != nil {
		m.unwind(d)
		return nil, err
	}

	d.vendor, d.product = m.identify(info, d.units[0])

	flags := m.MountFlags()
	for _, u := range d.units {
		vols, err := partition.Scan(ctx, u, m.opts.Partition)
		if err != nil {
			pkg.LogWarn(pkg.ComponentManager, "partition scan failed",
				"interface", info.ID,
				"lun", u.Index(),
				"error", err)
			if !d.transport.Usable() {
				m.unwind(d)
				return nil, fmt.Errorf("scan %s: %w", info.ID, err)
			}
			continue
		}
		for _, pv := range vols {
			m.mountVolume(d, u, pv, flags)
		}
	}
	return d, nil
}

// startUnits starts every logical unit of d. A unit that fails to start is
// skipped; a drive without any started unit is an error.
func (m *Manager) startUnits(ctx context.Context, d *Drive) error {
	maxLUN, err := d.transport.GetMaxLUN(ctx)
	if err != nil {
		return fmt.Errorf("get max lun %s: %w", d.info.ID, err)
	}

	for i := 0; i <= int(maxLUN); i++ {
		u := msc.NewLogicalUnit(d.device, uint8(i))
		if err := u.Start(ctx); err != nil {
			pkg.LogWarn(pkg.ComponentManager, "logical unit unavailable",
				"interface", d.info.ID,
				"lun", i,
				"error", err)
			if !d.transport.Usable() {
				return fmt.Errorf("start %s: %w", d.info.ID, err)
			}
			continue
		}
		d.units = append(d.units, u)
	}

	if len(d.units) == 0 {
		return fmt.Errorf("%s: %w: no usable logical unit", d.info.ID, pkg.ErrNoDevice)
	}
	return nil
}

// identify picks display names from the string descriptors, the USB ID
// database and INQUIRY data, in that order.
func (m *Manager) identify(info *hal.InterfaceInfo, u *msc.LogicalUnit) (vendor, product string) {
	vendor, product = info.Manufacturer, info.Product
	if m.opts.IDs != nil && (vendor == "" || product == "") && m.opts.IDs.Load() {
		if vendor == "" {
			vendor = m.opts.IDs.Vendor(info.VendorID)
		}
		if product == "" {
			product = m.opts.IDs.Product(info.VendorID, info.ProductID)
		}
	}
	if vendor == "" {
		vendor = u.Vendor()
	}
	if product == "" {
		product = u.Product()
	}
	return vendor, product
}

// mountVolume mounts pv with the backend registered for its filesystem
// family. Failures leave the volume unmounted and are not errors for the
// drive. Caller holds d.mutex.
func (m *Manager) mountVolume(d *Drive, u *msc.LogicalUnit, pv partition.Volume, flags MountFlags) {
	if len(d.volumes) >= MaxVolumesPerDrive {
		pkg.LogWarn(pkg.ComponentManager, "too many volumes",
			"interface", d.info.ID,
			"limit", MaxVolumesPerDrive)
		return
	}
	b := m.opts.backend(pv.Type)
	if b == nil {
		pkg.LogInfo(pkg.ComponentManager, "volume not mounted",
			"interface", d.info.ID,
			"lun", u.Index(),
			"start", pv.StartLBA,
			"type", pv.Type,
			"error", pkg.ErrNoBackend)
		return
	}

	if u.WriteProtected() {
		flags |= FlagReadOnly
	}
	dev := &blockDevice{
		drive:    d,
		lun:      u,
		start:    pv.StartLBA,
		count:    pv.BlockCount,
		readOnly: flags.Has(FlagReadOnly),
	}
	mnt, err := b.Mount(dev, flags)
	if err == nil && mnt == nil {
		err = errors.New("backend returned no mount")
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentManager, "mount failed",
			"interface", d.info.ID,
			"lun", u.Index(),
			"start", pv.StartLBA,
			"type", pv.Type,
			"error", err)
		return
	}

	d.volumes = append(d.volumes, &VolumeContext{
		drive:   d,
		lun:     u,
		index:   len(d.volumes),
		part:    pv,
		backend: b,
		mount:   mnt,
		dev:     dev,
		flags:   flags,
		cwd:     "/",
	})
}

// unwind undoes a partial openDrive. Caller holds d.mutex.
func (m *Manager) unwind(d *Drive) {
	for _, v := range d.volumes {
		if err := v.mount.Unmount(); err != nil {
			pkg.LogWarn(pkg.ComponentManager, "unmount failed", "interface", d.info.ID, "error", err)
		}
	}
	d.volumes = nil
	d.units = nil
	if err := m.hal.Release(d.info.ID); err != nil && !errors.Is(err, pkg.ErrNoDevice) {
		pkg.LogWarn(pkg.ComponentManager, "release failed", "interface", d.info.ID, "error", err)
	}
	d.dead = true
}

// =============================================================================
// Teardown
// =============================================================================

// teardown removes d from the directory and closes it. Returns false if d
// was already removed by another caller.
func (m *Manager) teardown(ctx context.Context, d *Drive, stop, eject bool) (bool, error) {
	if !m.unpublish(d, eject) {
		return false, nil
	}
	return true, m.closeDrive(ctx, d, stop, eject)
}

// closeDrive waits for in-flight I/O on d, then unmounts its volumes, stops
// its units when requested and releases its interface.
func (m *Manager) closeDrive(ctx context.Context, d *Drive, stop, eject bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var errs []error
	for _, v := range d.volumes {
		if err := v.mount.Unmount(); err != nil {
			errs = append(errs, fmt.Errorf("unmount %s: %w", v.name, err))
		}
		if v.name == "" {
			continue
		}
		if err := m.opts.DeviceTable.Remove(v.name); err != nil {
			errs = append(errs, fmt.Errorf("unregister %s: %w", v.name, err))
		}
	}

	if stop && d.transport.Usable() {
		for _, u := range d.units {
			if err := u.Stop(ctx, eject); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := m.hal.Release(d.info.ID); err != nil && !errors.Is(err, pkg.ErrNoDevice) {
		errs = append(errs, fmt.Errorf("release %s: %w", d.info.ID, err))
	}
	d.dead = true

	pkg.LogInfo(pkg.ComponentManager, "drive removed",
		"interface", d.info.ID,
		"volumes", len(d.volumes),
		"stopped", stop)
	return errors.Join(errs...)
}
