// Package hal defines the USB transport contract the mass-storage host stack
// runs on.
//
// A [HostHAL] hides the platform: it lists interfaces, hands out exclusive
// claims, performs control and bulk transfers, resets devices and reports
// hot-plug activity on a channel. The class driver above it implements all
// Bulk-Only and SCSI protocol logic; the HAL only moves bytes.
//
// # Interface Identity
//
// An [InterfaceID] packs bus number, device address and interface number. It
// stays stable while the device is attached and is reused by the platform only
// after the device goes away, so it doubles as the ownership key of a drive.
//
// # Implementations
//
//   - host/hal/linux: usbfs ioctls, sysfs scanning and netlink uevents
//   - host/hal/sim: an in-memory bus of simulated Bulk-Only disks
//
// # Example
//
//	h := linux.NewHostHAL()
//	if err := h.Init(ctx); err != nil {
//	    return err
//	}
//	defer h.Close()
//	infos, err := h.Interfaces(hal.MassStorageFilter)
package hal
