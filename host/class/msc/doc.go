// Package msc implements the host side of the USB Mass Storage Class:
// Bulk-Only Transport and the SCSI command subset needed to use a disk.
//
// The package is layered:
//
//  1. [Transport] runs the Bulk-Only protocol on a claimed interface. Each
//     command is a CBW, an optional data stage and a CSW. Faults are retried
//     once after clearing both pipes, then escalated to reset recovery and a
//     bus reset; a transport that survives none of these becomes unusable.
//  2. [Device] builds SCSI command blocks, decodes responses and turns a
//     failed status into a [SenseError] by issuing REQUEST SENSE.
//  3. [LogicalUnit] brings a unit up (TEST UNIT READY, START STOP UNIT,
//     INQUIRY, READ CAPACITY, MODE SENSE) and exposes bounds-checked block
//     reads and writes.
//
// The codecs in this package also marshal device-side responses, which the
// simulated bus in host/hal/sim uses to answer commands.
//
// # Usage Example
//
//	info := infos[0] // from HostHAL.Interfaces(hal.MassStorageFilter)
//	if err := bus.Claim(info.ID); err != nil {
//	    return err
//	}
//	dev := msc.NewDevice(msc.NewTransport(bus, &info))
//	unit := msc.NewLogicalUnit(dev, 0)
//	if err := unit.Start(ctx); err != nil {
//	    return err
//	}
//	buf := make([]byte, unit.BlockLength())
//	err := unit.ReadBlocks(ctx, 0, 1, buf)
//
// # References
//
//   - USB Mass Storage Class Bulk-Only Transport 1.0
//   - SCSI Primary Commands (SPC-4)
//   - SCSI Block Commands (SBC-3)
package msc
