// Package sim provides an in-memory USB host controller populated with
// simulated Bulk-Only mass-storage disks.
//
// A [Bus] implements [hal.HostHAL]. Each [Disk] runs a small SCSI target over
// the Bulk-Only Transport state machine and is backed by one [Storage] per
// logical unit. Disks can be attached and detached while a host is running,
// and faults can be injected into individual transport phases:
//
//	bus := sim.New()
//	disk := sim.NewDisk(sim.DiskConfig{Vendor: "ACME", Model: "Stick"},
//		sim.NewMemoryStorage(8<<20, 512))
//	id := bus.Attach(disk)
//	disk.Inject(sim.FaultStallStatus, 1)
//	...
//	bus.Detach(id)
//
// [FileStorage] exposes a disk image file as a logical unit.
package sim
