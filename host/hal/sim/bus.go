package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// eventQueueSize is the capacity of the Events channel.
const eventQueueSize = 64

// Bus is an in-memory hal.HostHAL carrying simulated disks. Disks can be
// attached and detached at any time to emulate hot-plug.
type Bus struct {
	mutex   sync.Mutex
	disks   map[hal.InterfaceID]*Disk
	claimed map[hal.InterfaceID]bool
	events  chan hal.Event
	next    uint8 // next device address
	running bool
	closed  bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		disks:   make(map[hal.InterfaceID]*Disk),
		claimed: make(map[hal.InterfaceID]bool),
		events:  make(chan hal.Event, eventQueueSize),
		next:    1,
	}
}

// Attach plugs d into the bus and returns its interface ID.
func (b *Bus) Attach(d *Disk) hal.InterfaceID {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	d.mutex.Lock()
	id := hal.MakeInterfaceID(1, b.next, d.info.ID.Interface())
	d.info.ID = id
	d.mutex.Unlock()

	b.next++
	if b.next == 0 {
		b.next = 1
	}
	b.disks[id] = d

	pkg.LogInfo(pkg.ComponentSim, "disk attached", "id", id)
	b.notify(hal.Event{Kind: hal.EventInterfaceAvailable, ID: id})
	return id
}

// Detach unplugs the disk with the given ID. Transfers in flight on it fail
// with pkg.ErrNoDevice.
func (b *Bus) Detach(id hal.InterfaceID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	d, ok := b.disks[id]
	if !ok {
		return false
	}
	delete(b.disks, id)
	delete(b.claimed, id)
	d.detach()

	pkg.LogInfo(pkg.ComponentSim, "disk detached", "id", id)
	b.notify(hal.Event{Kind: hal.EventInterfaceStateChanged, ID: id})
	return true
}

// Disk returns the attached disk with the given ID.
func (b *Bus) Disk(id hal.InterfaceID) (*Disk, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	d, ok := b.disks[id]
	return d, ok
}

// Claimed reports whether id is currently claimed.
func (b *Bus) Claimed(id hal.InterfaceID) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.claimed[id]
}

// notify queues ev without blocking. Consumers rescan the bus on every
// event, so an event dropped on a full queue is covered by a queued one.
// Caller holds the mutex.
func (b *Bus) notify(ev hal.Event) {
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		pkg.LogDebug(pkg.ComponentSim, "event queue full", "kind", ev.Kind, "id", ev.ID)
	}
}

// Init implements hal.HostHAL.
func (b *Bus) Init(ctx context.Context) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return fmt.Errorf("sim: bus closed: %w", pkg.ErrNotRunning)
	}
	if b.running {
		return pkg.ErrAlreadyRunning
	}
	b.running = true
	return ctx.Err()
}

// Close implements hal.HostHAL.
func (b *Bus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.running = false
	clear(b.claimed)
	close(b.events)
	return nil
}

// Interfaces implements hal.HostHAL.
func (b *Bus) Interfaces(filter hal.Filter) ([]hal.InterfaceInfo, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var out []hal.InterfaceInfo
	for _, d := range b.disks {
		info := d.Info()
		if filter.Match(&info) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Claim implements hal.HostHAL.
func (b *Bus) Claim(id hal.InterfaceID) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.disks[id]; !ok {
		return pkg.ErrNoDevice
	}
	if b.claimed[id] {
		return pkg.ErrBusy
	}
	b.claimed[id] = true
	return nil
}

// Release implements hal.HostHAL.
func (b *Bus) Release(id hal.InterfaceID) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.claimed[id] {
		return pkg.ErrNoDevice
	}
	delete(b.claimed, id)
	return nil
}

// lookup returns the claimed disk with the given ID.
func (b *Bus) lookup(id hal.InterfaceID) (*Disk, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	d, ok := b.disks[id]
	if !ok {
		return nil, pkg.ErrNoDevice
	}
	if !b.claimed[id] {
		return nil, fmt.Errorf("sim: interface %s not claimed: %w", id, pkg.ErrInvalidParameter)
	}
	return d, nil
}

// ControlTransfer implements hal.HostHAL.
func (b *Bus) ControlTransfer(ctx context.Context, id hal.InterfaceID, setup *hal.SetupPacket, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	return d.control(setup, data)
}

// BulkTransfer implements hal.HostHAL.
func (b *Bus) BulkTransfer(ctx context.Context, id hal.InterfaceID, endpoint uint8, data []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d, err := b.lookup(id)
	if err != nil {
		return 0, err
	}
	return d.bulk(ctx, endpoint, data)
}

// ResetDevice implements hal.HostHAL.
func (b *Bus) ResetDevice(ctx context.Context, id hal.InterfaceID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := b.lookup(id)
	if err != nil {
		return err
	}
	return d.busReset()
}

// Events implements hal.HostHAL.
func (b *Bus) Events() <-chan hal.Event {
	return b.events
}

var _ hal.HostHAL = (*Bus)(nil)
