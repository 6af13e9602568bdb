package sim

import (
	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/pkg"
)

// execute runs the SCSI command in d.cbw and leaves the disk in the phase
// the command requires. Caller holds the mutex.
func (d *Disk) execute() {
	d.dataIn = nil
	opcode := d.cbw.Opcode()

	if int(d.cbw.LUN) >= len(d.units) {
		if opcode == msc.SCSIRequestSense {
			sense := msc.NewSenseData(msc.SenseIllegalRequest, msc.ASCLogicalUnitNotSupported, 0)
			n := sense.MarshalTo(d.dataBuf[:])
			d.respond(d.dataBuf[:n])
			return
		}
		d.fail(nil, msc.SenseIllegalRequest, msc.ASCLogicalUnitNotSupported, 0)
		return
	}
	u := d.units[d.cbw.LUN]

	if opcode != msc.SCSIInquiry && opcode != msc.SCSIRequestSense && u.unitAttention {
		u.unitAttention = false
		d.fail(u, msc.SenseUnitAttention, msc.ASCNotReadyToReadyChange, 0)
		return
	}

	switch opcode {
	case msc.SCSITestUnitReady:
		d.handleTestUnitReady(u)
	case msc.SCSIRequestSense:
		d.handleRequestSense(u)
	case msc.SCSIInquiry:
		d.handleInquiry(u)
	case msc.SCSIReadCapacity10:
		d.handleReadCapacity10(u)
	case msc.SCSIServiceActionIn16:
		if d.cbw.CB[1]&0x1F != msc.ServiceActionReadCapacity16 {
			d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0)
			return
		}
		d.handleReadCapacity16(u)
	case msc.SCSIRead10, msc.SCSIRead16:
		d.handleRead(u)
	case msc.SCSIWrite10, msc.SCSIWrite16:
		d.handleWrite(u)
	case msc.SCSIModeSense6:
		if u.modeSense6 {
			d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0)
			return
		}
		d.handleModeSense(u, false)
	case msc.SCSIModeSense10:
		d.handleModeSense(u, true)
	case msc.SCSIStartStopUnit:
		d.handleStartStopUnit(u)
	case msc.SCSIPreventAllowRemoval:
		d.succeed()
	case msc.SCSISynchronizeCache10:
		d.handleSynchronizeCache(u)
	default:
		pkg.LogWarn(pkg.ComponentSim, "unsupported SCSI command", "opcode", opcode)
		d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidCommand, 0)
	}
}

// ready fails the command unless u has medium and has left the not-ready
// state. Caller holds the mutex.
func (d *Disk) ready(u *unit) bool {
	switch {
	case !u.storage.IsPresent():
		d.fail(u, msc.SenseNotReady, msc.ASCMediumNotPresent, 0)
		return false
	case u.notReady > 0 || u.stopped:
		d.fail(u, msc.SenseNotReady, msc.ASCLogicalUnitNotReady, msc.ASCQInitCommandRequired)
		return false
	}
	return true
}

func (d *Disk) handleTestUnitReady(u *unit) {
	if u.storage.IsPresent() && u.notReady > 0 {
		u.notReady--
		d.fail(u, msc.SenseNotReady, msc.ASCLogicalUnitNotReady, msc.ASCQInitCommandRequired)
		return
	}
	if !d.ready(u) {
		return
	}
	d.succeed()
}

func (d *Disk) handleRequestSense(u *unit) {
	n := u.sense.MarshalTo(d.dataBuf[:])
	u.sense = msc.NewSenseData(msc.SenseNoSense, 0, 0)
	d.respond(d.dataBuf[:n])
}

func (d *Disk) handleInquiry(u *unit) {
	resp := d.inquiry
	if u.storage.IsRemovable() {
		resp.RMB = msc.InquiryRMB
	} else {
		resp.RMB = 0
	}
	n := resp.MarshalTo(d.dataBuf[:])
	d.respond(d.dataBuf[:n])
}

func (d *Disk) handleReadCapacity10(u *unit) {
	if !d.ready(u) {
		return
	}
	last := u.storage.BlockCount() - 1
	resp := msc.ReadCapacity10Response{
		LastLBA:     msc.ReadCapacity10Overflow,
		BlockLength: u.storage.BlockSize(),
	}
	if last < msc.ReadCapacity10Overflow {
		resp.LastLBA = uint32(last)
	}
	n := resp.MarshalTo(d.dataBuf[:])
	d.respond(d.dataBuf[:n])
}

func (d *Disk) handleReadCapacity16(u *unit) {
	if !d.ready(u) {
		return
	}
	resp := msc.ReadCapacity16Response{
		LastLBA:     u.storage.BlockCount() - 1,
		BlockLength: u.storage.BlockSize(),
	}
	n := resp.MarshalTo(d.dataBuf[:])
	d.respond(d.dataBuf[:n])
}

// transferLength validates the LBA range of a READ or WRITE CDB and returns
// its byte length. Caller holds the mutex.
func (d *Disk) transferLength(u *unit) (lba uint64, blocks uint32, ok bool) {
	lba, blocks, ok = msc.ParseReadWrite(d.cbw.CB[:d.cbw.CBLength])
	if !ok {
		d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
		return 0, 0, false
	}
	if lba+uint64(blocks) > u.storage.BlockCount() {
		d.fail(u, msc.SenseIllegalRequest, msc.ASCLBAOutOfRange, 0)
		return 0, 0, false
	}
	length := uint64(blocks) * uint64(u.storage.BlockSize())
	if length > uint64(d.cbw.DataTransferLength) || length > msc.MaxTransferSize {
		d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
		return 0, 0, false
	}
	return lba, blocks, true
}

func (d *Disk) handleRead(u *unit) {
	if !d.ready(u) {
		return
	}
	lba, blocks, ok := d.transferLength(u)
	if !ok {
		return
	}
	length := blocks * u.storage.BlockSize()
	if _, err := u.storage.Read(lba, blocks, d.dataBuf[:length]); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "storage read failed", "lba", lba, "error", err)
		d.fail(u, msc.SenseMediumError, msc.ASCUnrecoveredReadError, 0)
		return
	}
	d.respond(d.dataBuf[:length])
}

func (d *Disk) handleWrite(u *unit) {
	if !d.ready(u) {
		return
	}
	if u.storage.IsReadOnly() {
		d.fail(u, msc.SenseDataProtect, msc.ASCWriteProtected, 0)
		return
	}
	lba, blocks, ok := d.transferLength(u)
	if !ok {
		return
	}
	d.write = pendingWrite{unit: u, lba: lba, blocks: blocks}
	d.status = msc.CSWStatusGood
	d.residue = d.cbw.DataTransferLength
	if d.cbw.DataTransferLength == 0 {
		d.phase = phaseStatus
		return
	}
	d.phase = phaseDataOut
}

// finishWrite commits the OUT data of a pending WRITE. Caller holds the mutex.
func (d *Disk) finishWrite(data []byte) {
	w := d.write
	d.write = pendingWrite{}
	d.residue = d.cbw.DataTransferLength - uint32(len(data))
	if w.unit == nil {
		return
	}
	length := int(w.blocks * w.unit.storage.BlockSize())
	if len(data) < length {
		w.unit.sense = msc.NewSenseData(msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
		d.status = msc.CSWStatusFailed
		return
	}
	if _, err := w.unit.storage.Write(w.lba, w.blocks, data[:length]); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "storage write failed", "lba", w.lba, "error", err)
		w.unit.sense = msc.NewSenseData(msc.SenseMediumError, msc.ASCWriteError, 0)
		d.status = msc.CSWStatusFailed
	}
}

func (d *Disk) handleModeSense(u *unit, ten bool) {
	hdr := msc.ModeParameterHeader{}
	if u.storage.IsReadOnly() {
		hdr.DeviceParam = msc.ModeDeviceParamWP
	}
	var n int
	if ten {
		hdr.ModeDataLength = msc.ModeSense10HeaderSize - 2
		n = hdr.MarshalTo10(d.dataBuf[:])
	} else {
		hdr.ModeDataLength = msc.ModeSense6HeaderSize - 1
		n = hdr.MarshalTo6(d.dataBuf[:])
	}
	d.respond(d.dataBuf[:n])
}

func (d *Disk) handleStartStopUnit(u *unit) {
	start := d.cbw.CB[4]&msc.StartStopStart != 0
	loej := d.cbw.CB[4]&msc.StartStopLoEj != 0

	pkg.LogDebug(pkg.ComponentSim, "start stop unit",
		"lun", d.cbw.LUN,
		"start", start,
		"loej", loej)

	u.stopped = !start
	if start {
		u.notReady = 0
	} else if loej && u.storage.IsRemovable() {
		if err := u.storage.Eject(); err != nil {
			d.fail(u, msc.SenseIllegalRequest, msc.ASCInvalidFieldInCDB, 0)
			return
		}
	}
	d.succeed()
}

func (d *Disk) handleSynchronizeCache(u *unit) {
	if err := u.storage.Sync(); err != nil {
		d.fail(u, msc.SenseMediumError, 0, 0)
		return
	}
	d.succeed()
}
