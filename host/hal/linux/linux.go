//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// eventQueueSize is the capacity of the Events channel.
const eventQueueSize = 64

// =============================================================================
// HostHAL Implementation
// =============================================================================

// HostHAL implements hal.HostHAL on Linux using usbfs for transfers, sysfs
// for discovery and netlink uevents for hot-plug.
type HostHAL struct {
	sysfsRoot string
	devfsRoot string

	mutex   sync.Mutex
	conns   map[deviceKey]*deviceConn
	events  chan hal.Event
	timeout time.Duration
	running bool
	closed  bool

	poller  *poller
	hotplug *hotplugMonitor
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewHostHAL creates a Linux host HAL over the standard sysfs and devfs
// locations.
func NewHostHAL() *HostHAL {
	return newHostHAL(SysfsUSBPath, DevfsUSBPath)
}

func newHostHAL(sysfsRoot, devfsRoot string) *HostHAL {
	return &HostHAL{
		sysfsRoot: sysfsRoot,
		devfsRoot: devfsRoot,
		conns:     make(map[deviceKey]*deviceConn),
		events:    make(chan hal.Event, eventQueueSize),
		timeout:   DefaultTransferTimeout,
	}
}

// SetTransferTimeout sets the timeout of transfers whose context carries no
// deadline. Non-positive values restore DefaultTransferTimeout.
func (h *HostHAL) SetTransferTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTransferTimeout
	}
	h.mutex.Lock()
	h.timeout = d
	h.mutex.Unlock()
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Init implements hal.HostHAL. Hot-plug monitoring is best effort: when the
// netlink socket cannot be opened, Init logs a warning and the HAL still
// serves explicit rescans.
func (h *HostHAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return fmt.Errorf("linux: hal closed: %w", pkg.ErrNotRunning)
	}
	if h.running {
		return pkg.ErrAlreadyRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := unix.Access(h.sysfsRoot, unix.R_OK); err != nil {
		return fmt.Errorf("linux: %s: %w", h.sysfsRoot, err)
	}

	if err := h.startHotplug(); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "hot-plug monitoring unavailable", "error", err)
	}
	h.running = true

	pkg.LogDebug(pkg.ComponentHAL, "linux host HAL initialized",
		"sysfs", h.sysfsRoot,
		"devfs", h.devfsRoot)
	return nil
}

// startHotplug opens the netlink monitor and starts the poll loop. Caller
// holds the mutex.
func (h *HostHAL) startHotplug() error {
	p, err := newPoller()
	if err != nil {
		return err
	}
	mon, err := newHotplugMonitor()
	if err != nil {
		p.close()
		return err
	}
	if err := p.addFD(mon.fd, unix.EPOLLIN, h.onHotplug); err != nil {
		mon.close()
		p.close()
		return err
	}

	h.poller, h.hotplug = p, mon
	h.done = make(chan struct{})
	h.wg.Add(1)
	go h.pollLoop()
	return nil
}

// Close implements hal.HostHAL.
func (h *HostHAL) Close() error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return nil
	}
	h.closed = true
	h.running = false
	p, mon, done := h.poller, h.hotplug, h.done
	h.mutex.Unlock()

	var errs []error
	if p != nil {
		close(done)
		_ = p.wake()
		h.wg.Wait()
		errs = append(errs, mon.close(), p.close())
	}

	h.mutex.Lock()
	for key, c := range h.conns {
		errs = append(errs, c.close())
		delete(h.conns, key)
	}
	close(h.events)
	h.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "linux host HAL closed")
	return errors.Join(errs...)
}

// =============================================================================
// Discovery and Claiming
// =============================================================================

// Interfaces implements hal.HostHAL.
func (h *HostHAL) Interfaces(filter hal.Filter) ([]hal.InterfaceInfo, error) {
	devices, err := scanUSBDevices(h.sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("linux: scan: %w", err)
	}

	var out []hal.InterfaceInfo
	for i := range devices {
		d := &devices[i]
		for j := range d.interfaces {
			info := d.interfaceInfo(&d.interfaces[j])
			if filter.Match(&info) {
				out = append(out, info)
			}
		}
	}
	return out, nil
}

// Claim implements hal.HostHAL. The device node is opened on the first
// claim of any of its interfaces.
func (h *HostHAL) Claim(id hal.InterfaceID) error {
	key := deviceKey{bus: id.Bus(), dev: id.Address()}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.running {
		return pkg.ErrNotRunning
	}
	c, ok := h.conns[key]
	if !ok {
		var err error
		c, err = openDeviceConn(key, formatDevfsPath(h.devfsRoot, key.bus, key.dev))
		if err != nil {
			return fmt.Errorf("linux: %s: %w", id, err)
		}
	}
	if err := c.claim(id.Interface()); err != nil {
		if !ok {
			_ = c.close()
		}
		return fmt.Errorf("linux: %s: %w", id, err)
	}
	h.conns[key] = c

	pkg.LogDebug(pkg.ComponentHAL, "interface claimed", "interface", id)
	return nil
}

// Release implements hal.HostHAL. The device node is closed once no
// interface of it remains claimed.
func (h *HostHAL) Release(id hal.InterfaceID) error {
	key := deviceKey{bus: id.Bus(), dev: id.Address()}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	c, ok := h.conns[key]
	if !ok {
		return pkg.ErrNoDevice
	}
	more, err := c.release(id.Interface())
	if !more {
		delete(h.conns, key)
		if cerr := c.close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("linux: release %s: %w", id, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "interface released", "interface", id)
	return nil
}

// lookup returns the connection carrying the claimed interface id, and the
// transfer timeout for ctx.
func (h *HostHAL) lookup(ctx context.Context, id hal.InterfaceID) (*deviceConn, uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	h.mutex.Lock()
	c, ok := h.conns[deviceKey{bus: id.Bus(), dev: id.Address()}]
	def := h.timeout
	h.mutex.Unlock()

	if !ok {
		return nil, 0, pkg.ErrNoDevice
	}
	if !c.isClaimed(id.Interface()) {
		return nil, 0, fmt.Errorf("linux: interface %s not claimed: %w", id, pkg.ErrInvalidParameter)
	}
	deadline, has := ctx.Deadline()
	return c, timeoutMillis(deadline, has, def), nil
}

// =============================================================================
// Transfers
// =============================================================================

// ControlTransfer implements hal.HostHAL. CLEAR_FEATURE(ENDPOINT_HALT) goes
// through USBDEVFS_CLEAR_HALT so the host side data toggle is reset too.
func (h *HostHAL) ControlTransfer(ctx context.Context, id hal.InterfaceID, setup *hal.SetupPacket, data []byte) (int, error) {
	c, timeout, err := h.lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	if len(data) > MaxControlTransferSize {
		return 0, pkg.ErrBufferTooSmall
	}
	if setup.IsClearEndpointHalt() {
		return c.do(func(fd int) (int, error) {
			return 0, clearHalt(fd, uint8(setup.Index))
		})
	}

	n, err := c.do(func(fd int) (int, error) {
		return controlTransfer(fd, setup.RequestType, setup.Request,
			setup.Value, setup.Index, data[:min(len(data), int(setup.Length))], timeout)
	})
	return n, h.transferError(ctx, err)
}

// BulkTransfer implements hal.HostHAL.
func (h *HostHAL) BulkTransfer(ctx context.Context, id hal.InterfaceID, endpoint uint8, data []byte) (int, error) {
	c, timeout, err := h.lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	n, err := c.do(func(fd int) (int, error) {
		return bulkTransferSync(fd, endpoint, data, timeout)
	})
	return n, h.transferError(ctx, err)
}

// ResetDevice implements hal.HostHAL.
func (h *HostHAL) ResetDevice(ctx context.Context, id hal.InterfaceID) error {
	c, _, err := h.lookup(ctx, id)
	if err != nil {
		return err
	}
	_, err = c.do(func(fd int) (int, error) {
		return 0, resetDevice(fd)
	})
	return h.transferError(ctx, err)
}

// transferError reports a kernel timeout as the context's error once the
// context has expired.
func (h *HostHAL) transferError(ctx context.Context, err error) error {
	if (errors.Is(err, pkg.ErrTimeout) || errors.Is(err, pkg.ErrCancelled)) && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// =============================================================================
// Hot-plug
// =============================================================================

// Events implements hal.HostHAL.
func (h *HostHAL) Events() <-chan hal.Event {
	return h.events
}

// pollLoop waits for uevents until Close.
func (h *HostHAL) pollLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		default:
		}
		if _, _, err := h.poller.pollOnce(-1); err != nil {
			pkg.LogWarn(pkg.ComponentHAL, "poll error", "error", err)
			return
		}
	}
}

// onHotplug drains the netlink socket.
func (h *HostHAL) onHotplug(events uint32) {
	if events&unix.EPOLLIN == 0 {
		return
	}
	if err := h.hotplug.drain(h.notify); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "uevent read failed", "error", err)
	}
}

// notify queues ev without blocking. Consumers rescan the bus on every
// event, so an event dropped on a full queue is covered by a queued one.
func (h *HostHAL) notify(ev hal.Event) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closed {
		return
	}
	if ev.Kind == hal.EventInterfaceStateChanged && ev.ID != 0 {
		if c, ok := h.conns[deviceKey{bus: ev.ID.Bus(), dev: ev.ID.Address()}]; ok {
			ev.ID = hal.MakeInterfaceID(c.key.bus, c.key.dev, firstClaimed(c))
		}
	}
	select {
	case h.events <- ev:
	default:
		pkg.LogDebug(pkg.ComponentHAL, "event queue full", "kind", ev.Kind, "id", ev.ID)
	}
}

// firstClaimed returns the lowest claimed interface number of c.
func firstClaimed(c *deviceConn) uint8 {
	for i := uint8(0); i < MaxInterfacesPerDevice; i++ {
		if c.isClaimed(i) {
			return i
		}
	}
	return 0
}

var _ hal.HostHAL = (*HostHAL)(nil)
