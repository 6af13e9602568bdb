package sim

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// Endpoint addresses of every simulated disk.
const (
	EndpointIn  = 0x81
	EndpointOut = 0x02
)

// DiskConfig describes the identity of a simulated disk.
type DiskConfig struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string // String descriptor
	Product      string // String descriptor
	Serial       string // String descriptor
	Interface    uint8  // bInterfaceNumber

	Vendor   string // INQUIRY vendor identification
	Model    string // INQUIRY product identification
	Revision string // INQUIRY product revision
}

// phase is the Bulk-Only state of the simulated device.
type phase uint8

const (
	phaseCommand phase = iota
	phaseDataIn
	phaseDataOut
	phaseStatus
)

// pendingWrite is a WRITE command waiting for its OUT data stage.
type pendingWrite struct {
	unit   *unit
	lba    uint64
	blocks uint32
}

// unit is the state of one simulated logical unit.
type unit struct {
	storage       Storage
	sense         msc.SenseData
	notReady      int  // TEST UNIT READY calls answered NOT READY before START
	unitAttention bool // next command reports UNIT ATTENTION
	stopped       bool
	modeSense6    bool // MODE SENSE (6) rejected as ILLEGAL REQUEST
}

// Disk is a simulated Bulk-Only mass-storage interface with one or more
// logical units.
type Disk struct {
	mutex sync.Mutex
	info  hal.InterfaceInfo
	units []*unit

	phase     phase
	cbw       msc.CommandBlockWrapper
	dataIn    []byte
	write     pendingWrite
	status    uint8
	residue   uint32
	haltedIn  bool
	haltedOut bool

	faults       map[Fault]int
	stallMaxLUN  bool
	failResets   bool
	gone         chan struct{}
	commands     atomic.Uint64
	busResets    atomic.Uint64
	classResets  atomic.Uint64
	clearedHalts atomic.Uint64

	inquiry msc.InquiryResponse
	dataBuf [msc.MaxTransferSize]byte
	cswBuf  [msc.CSWSize]byte
}

// NewDisk creates a disk whose logical units are backed by storages, in
// order. At least one storage is required.
func NewDisk(cfg DiskConfig, storages ...Storage) *Disk {
	if len(storages) == 0 || len(storages) > msc.MaxLUNs {
		panic("sim: a disk needs 1 to 16 storages")
	}
	d := &Disk{
		info: hal.InterfaceInfo{
			VendorID:      cfg.VendorID,
			ProductID:     cfg.ProductID,
			Manufacturer:  cfg.Manufacturer,
			Product:       cfg.Product,
			Serial:        cfg.Serial,
			Speed:         hal.SpeedHigh,
			Class:         hal.ClassMassStorage,
			Subclass:      hal.SubclassSCSI,
			Protocol:      hal.ProtocolBulkOnly,
			BulkIn:        EndpointIn,
			BulkOut:       EndpointOut,
			MaxPacketSize: 512,
		},
		faults: make(map[Fault]int),
		gone:   make(chan struct{}),
	}
	d.info.ID = hal.MakeInterfaceID(0, 0, cfg.Interface)
	for _, s := range storages {
		d.units = append(d.units, &unit{storage: s, sense: msc.NewSenseData(msc.SenseNoSense, 0, 0)})
	}
	d.inquiry = msc.NewInquiryResponse(msc.DeviceTypeDisk, storages[0].IsRemovable(),
		cfg.Vendor, cfg.Model, cfg.Revision)
	return d
}

// Info returns the interface description of the disk.
func (d *Disk) Info() hal.InterfaceInfo {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.info
}

// =============================================================================
// Fault and Condition Injection
// =============================================================================

// Inject schedules fault to happen on its next opportunity, times times.
func (d *Disk) Inject(fault Fault, times int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.faults[fault] += times
}

// take consumes one pending instance of fault. Caller holds the mutex.
func (d *Disk) take(fault Fault) bool {
	if d.faults[fault] == 0 {
		return false
	}
	d.faults[fault]--
	return true
}

// SetNotReady makes lun answer NOT READY to the next n TEST UNIT READY
// commands unless it is started first.
func (d *Disk) SetNotReady(lun uint8, n int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.units[lun].notReady = n
}

// SetUnitAttention makes lun fail its next command with UNIT ATTENTION.
func (d *Disk) SetUnitAttention(lun uint8) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.units[lun].unitAttention = true
}

// SetRejectModeSense6 makes lun reject MODE SENSE (6).
func (d *Disk) SetRejectModeSense6(lun uint8, reject bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.units[lun].modeSense6 = reject
}

// SetStallMaxLUN makes the disk stall GET MAX LUN.
func (d *Disk) SetStallMaxLUN(stall bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stallMaxLUN = stall
}

// SetFailResets makes class and bus resets fail.
func (d *Disk) SetFailResets(fail bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.failResets = fail
}

// Stopped reports whether lun received START STOP UNIT with start cleared.
func (d *Disk) Stopped(lun uint8) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.units[lun].stopped
}

// Commands returns the number of CBWs accepted.
func (d *Disk) Commands() uint64 { return d.commands.Load() }

// BusResets returns the number of bus resets received.
func (d *Disk) BusResets() uint64 { return d.busResets.Load() }

// ClassResets returns the number of Bulk-Only Mass Storage Resets received.
func (d *Disk) ClassResets() uint64 { return d.classResets.Load() }

// ClearedHalts returns the number of CLEAR_FEATURE(ENDPOINT_HALT) requests.
func (d *Disk) ClearedHalts() uint64 { return d.clearedHalts.Load() }

// =============================================================================
// Bulk Pipes
// =============================================================================

// bulk dispatches a bulk transfer on endpoint.
func (d *Disk) bulk(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	d.mutex.Lock()

	switch endpoint {
	case EndpointOut:
		defer d.mutex.Unlock()
		if d.haltedOut {
			return 0, pkg.ErrStall
		}
		if d.phase == phaseDataOut {
			return d.receiveData(data), nil
		}
		return d.receiveCommand(data)

	case EndpointIn:
		if d.haltedIn {
			d.mutex.Unlock()
			return 0, pkg.ErrStall
		}
		switch d.phase {
		case phaseDataIn:
			defer d.mutex.Unlock()
			return d.sendData(data), nil
		case phaseStatus:
			if d.take(FaultTimeout) {
				d.phase = phaseCommand
				d.mutex.Unlock()
				return d.hang(ctx)
			}
			if d.take(FaultStallStatus) {
				d.haltedIn = true
				d.mutex.Unlock()
				return 0, pkg.ErrStall
			}
			defer d.mutex.Unlock()
			return d.sendStatus(data), nil
		}
		d.mutex.Unlock()
		return d.hang(ctx)
	}

	d.mutex.Unlock()
	return 0, pkg.ErrInvalidEndpoint
}

// hang blocks like a device that never answers.
func (d *Disk) hang(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-d.gone:
		return 0, pkg.ErrNoDevice
	}
}

// receiveCommand accepts a CBW. An invalid CBW stalls both pipes until reset
// recovery. Caller holds the mutex.
func (d *Disk) receiveCommand(data []byte) (int, error) {
	if d.take(FaultStallCommand) {
		d.haltedOut = true
		return 0, pkg.ErrStall
	}

	if !msc.ParseCBW(data, &d.cbw) {
		pkg.LogWarn(pkg.ComponentSim, "invalid CBW", "length", len(data))
		d.haltedIn, d.haltedOut = true, true
		return len(data), nil
	}
	d.commands.Add(1)

	pkg.LogDebug(pkg.ComponentSim, "CBW received",
		"tag", d.cbw.Tag,
		"lun", d.cbw.LUN,
		"opcode", d.cbw.Opcode(),
		"length", d.cbw.DataTransferLength)

	d.execute()
	return len(data), nil
}

// sendData delivers the pending IN data. Caller holds the mutex.
func (d *Disk) sendData(buf []byte) int {
	data := d.dataIn
	if d.take(FaultShortData) {
		data = data[:len(data)/2]
	}
	n := copy(buf, data)
	d.residue = d.cbw.DataTransferLength - uint32(n)
	d.dataIn = nil
	d.phase = phaseStatus
	return n
}

// receiveData consumes the OUT data stage of a write. Caller holds the mutex.
func (d *Disk) receiveData(data []byte) int {
	n := min(len(data), int(d.cbw.DataTransferLength))
	d.finishWrite(data[:n])
	d.phase = phaseStatus
	return n
}

// sendStatus delivers the CSW. Caller holds the mutex.
func (d *Disk) sendStatus(buf []byte) int {
	csw := msc.NewCSW(d.cbw.Tag, d.residue, d.status)
	if d.take(FaultBadSignature) {
		csw.Signature = msc.CBWSignature
	}
	if d.take(FaultBadTag) {
		csw.Tag ^= 0xA5A5A5A5
	}
	if d.take(FaultPhaseError) {
		csw.Status = msc.CSWStatusPhaseError
	}
	csw.MarshalTo(d.cswBuf[:])
	d.phase = phaseCommand

	pkg.LogDebug(pkg.ComponentSim, "CSW sent",
		"tag", csw.Tag,
		"status", csw.Status,
		"residue", csw.DataResidue)
	return copy(buf, d.cswBuf[:])
}

// =============================================================================
// Control Pipe
// =============================================================================

// control handles the requests a Bulk-Only host issues on the default pipe.
func (d *Disk) control(setup *hal.SetupPacket, data []byte) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch {
	case setup.IsClearEndpointHalt():
		d.clearedHalts.Add(1)
		switch uint8(setup.Index) {
		case EndpointIn:
			d.haltedIn = false
		case EndpointOut:
			d.haltedOut = false
		}
		return 0, nil

	case setup.RequestType&hal.RequestTypeClass != 0 && setup.Request == msc.RequestGetMaxLUN:
		if d.stallMaxLUN || len(data) < 1 {
			return 0, pkg.ErrStall
		}
		data[0] = uint8(len(d.units) - 1)
		return 1, nil

	case setup.RequestType&hal.RequestTypeClass != 0 && setup.Request == msc.RequestBulkOnlyMassStorageReset:
		d.classResets.Add(1)
		if d.failResets {
			return 0, pkg.ErrStall
		}
		d.resetState()
		return 0, nil
	}
	return 0, pkg.ErrStall
}

// busReset emulates a port reset.
func (d *Disk) busReset() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.busResets.Add(1)
	if d.failResets {
		return pkg.ErrProtocol
	}
	d.resetState()
	d.haltedIn, d.haltedOut = false, false
	return nil
}

// resetState abandons any command in progress. Caller holds the mutex.
func (d *Disk) resetState() {
	d.phase = phaseCommand
	d.dataIn = nil
	d.status, d.residue = msc.CSWStatusGood, 0
}

// detach marks the disk unplugged.
func (d *Disk) detach() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	select {
	case <-d.gone:
	default:
		close(d.gone)
	}
}

// =============================================================================
// Command Completion Helpers
// =============================================================================

// respond queues IN data (truncated to the host's length) and a good status.
// Caller holds the mutex.
func (d *Disk) respond(data []byte) {
	n := min(len(data), int(d.cbw.DataTransferLength))
	d.dataIn = data[:n]
	d.status = msc.CSWStatusGood
	d.residue = d.cbw.DataTransferLength - uint32(n)
	if d.cbw.DataTransferLength == 0 {
		d.phase = phaseStatus
		return
	}
	d.phase = phaseDataIn
}

// succeed completes a command with no data. Caller holds the mutex.
func (d *Disk) succeed() {
	d.status = msc.CSWStatusGood
	d.residue = d.cbw.DataTransferLength
	d.phase = phaseStatus
}

// fail records sense for lun and completes the command with a failed status,
// stalling the pipe of any expected data stage. Caller holds the mutex.
func (d *Disk) fail(u *unit, key, asc, ascq uint8) {
	if u != nil {
		u.sense = msc.NewSenseData(key, asc, ascq)
	}
	d.status = msc.CSWStatusFailed
	d.residue = d.cbw.DataTransferLength
	d.phase = phaseStatus
	if d.cbw.DataTransferLength > 0 {
		if d.cbw.IsDataIn() {
			d.haltedIn = true
		} else {
			d.haltedOut = true
		}
	}
}
