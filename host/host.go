package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// eventQueueSize bounds the queued worker events.
const eventQueueSize = 64

// State is the lifecycle state of a Manager's worker.
type State uint32

// Worker states.
const (
	StateStopped     State = iota // Not initialized
	StateIdle                     // Waiting for an event
	StateEnumerating              // Adding new drives
	StateReconciling              // Removing vanished drives
	StateDraining                 // Tearing down every drive
	StateTerminated               // Worker exited
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateReconciling:
		return "reconciling"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type eventKind uint8

const (
	eventDeviceArrived eventKind = iota + 1
	eventDeviceRemoved
	eventShutdown
)

// event is one unit of worker input. done, if set, receives the outcome once
// the event is handled.
type event struct {
	kind eventKind
	done chan error
}

func (ev event) finish(err error) {
	if ev.done != nil {
		ev.done <- err
	}
}

// Manager discovers mass-storage drives on a HostHAL and keeps their
// volumes mounted while the drives stay attached.
//
// A single worker goroutine reacts to hot-plug events; any number of callers
// may list volumes and perform I/O concurrently.
type Manager struct {
	hal  hal.HostHAL
	opts Options

	// Lifecycle, guarded by lifecycle
	lifecycle  sync.Mutex
	running    bool
	ctx        context.Context
	cancel     context.CancelFunc
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	done       chan struct{}
	drainErr   error

	events chan event
	state  atomic.Uint32

	// Directory, guarded by directory
	directory sync.Mutex
	drives    *registry[Drive]
	volumes   *registry[VolumeContext]
	names     map[string]VolumeHandle
	owned     map[hal.InterfaceID]*Drive
	ejected   map[hal.InterfaceID]struct{}
	failed    map[hal.InterfaceID]struct{}
	flags     MountFlags
	onChange  func([]VolumeInfo)

	// Default device, guarded by defaultMutex; taken after directory
	defaultMutex  sync.Mutex
	defaultDevice string
	defaultHandle VolumeHandle

	status statusSignal
}

// New creates a Manager for h. Nothing happens until Initialize.
func New(h hal.HostHAL, opts Options) *Manager {
	opts = opts.normalize()
	return &Manager{
		hal:     h,
		opts:    opts,
		events:  make(chan event, eventQueueSize),
		drives:  newRegistry[Drive](opts.MaxDrives),
		volumes: newRegistry[VolumeContext](opts.MaxDrives * MaxVolumesPerDrive),
		names:   make(map[string]VolumeHandle),
		owned:   make(map[hal.InterfaceID]*Drive),
		ejected: make(map[hal.InterfaceID]struct{}),
		failed:  make(map[hal.InterfaceID]struct{}),
		flags:   opts.MountFlags,
		status:  newStatusSignal(),
	}
}

// Initialize starts the HAL and the worker, and returns once the drives
// already attached have been enumerated. Calling it on a running Manager
// does nothing.
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.running {
		return nil
	}
	if err := m.hal.Init(ctx); err != nil && !errors.Is(err, pkg.ErrAlreadyRunning) {
		return fmt.Errorf("initialize: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	pumpCtx, pumpCancel := context.WithCancel(m.ctx)
	m.pumpCancel = pumpCancel
	m.pumpDone = make(chan struct{})
	m.done = make(chan struct{})
	m.drainErr = nil
	m.running = true
	m.state.Store(uint32(StateIdle))

	go m.run(m.done)
	go m.pump(pumpCtx, m.hal.Events(), m.pumpDone)

	pkg.LogInfo(pkg.ComponentManager, "manager started")

	return m.await(ctx, eventDeviceArrived, m.done)
}

// Shutdown tears down every drive, stopping their units, then stops the
// worker and closes the HAL. It blocks until all of that is done. Calling it
// on a stopped Manager does nothing.
func (m *Manager) Shutdown() error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.running {
		return nil
	}

	m.pumpCancel()
	<-m.pumpDone

	m.events <- event{kind: eventShutdown}
	<-m.done
	err := m.drainErr

	// Fail anything queued behind the shutdown.
	for pending := true; pending; {
		select {
		case ev := <-m.events:
			ev.finish(pkg.ErrNotRunning)
		default:
			pending = false
		}
	}

	m.cancel()
	if cerr := m.hal.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", cerr))
	}
	m.running = false

	pkg.LogInfo(pkg.ComponentManager, "manager stopped")
	return err
}

// Rescan reconciles the live drives with the bus and enumerates new ones,
// returning once both are done.
func (m *Manager) Rescan(ctx context.Context) error {
	m.lifecycle.Lock()
	running, done := m.running, m.done
	m.lifecycle.Unlock()

	if !running {
		return pkg.ErrNotRunning
	}
	if err := m.await(ctx, eventDeviceRemoved, done); err != nil {
		return err
	}
	return m.await(ctx, eventDeviceArrived, done)
}

// await queues an event and waits until the worker has handled it.
func (m *Manager) await(ctx context.Context, kind eventKind, workerDone <-chan struct{}) error {
	ev := event{kind: kind, done: make(chan error, 1)}
	select {
	case m.events <- ev:
	case <-workerDone:
		return pkg.ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-ev.done:
		return err
	case <-workerDone:
		select {
		case err := <-ev.done:
			return err
		default:
			return pkg.ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the worker's current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// =============================================================================
// Worker
// =============================================================================

// pump forwards HAL notifications to the worker.
func (m *Manager) pump(ctx context.Context, src <-chan hal.Event, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			kind := eventDeviceArrived
			if ev.Kind == hal.EventInterfaceStateChanged {
				kind = eventDeviceRemoved
			}
			pkg.LogDebug(pkg.ComponentManager, "bus event", "kind", ev.Kind, "interface", ev.ID)

			select {
			case m.events <- event{kind: kind}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// run is the worker loop.
func (m *Manager) run(done chan struct{}) {
	defer close(done)

	for {
		ev := <-m.events

		var changed bool
		switch ev.kind {
		case eventDeviceArrived:
			m.state.Store(uint32(StateReconciling))
			changed = m.reconcile(false)
			m.state.Store(uint32(StateEnumerating))
			changed = m.enumerate() || changed

		case eventDeviceRemoved:
			m.state.Store(uint32(StateReconciling))
			changed = m.reconcile(true)

		case eventShutdown:
			m.state.Store(uint32(StateDraining))
			changed, m.drainErr = m.drain()
			if changed {
				m.notify()
			}
			m.state.Store(uint32(StateTerminated))
			ev.finish(m.drainErr)
			return
		}

		m.state.Store(uint32(StateIdle))
		if changed {
			m.notify()
		}
		ev.finish(nil)
	}
}

// enumerate opens every matching interface not yet owned or ejected.
// Reports whether any drive was added.
func (m *Manager) enumerate() bool {
	infos, err := m.hal.Interfaces(hal.MassStorageFilter)
	if err != nil {
		pkg.LogWarn(pkg.ComponentManager, "interface query failed", "error", err)
		return false
	}

	changed := false
	for i := range infos {
		info := &infos[i]

		m.directory.Lock()
		_, owned := m.owned[info.ID]
		_, ejected := m.ejected[info.ID]
		full := m.drives.len() >= m.opts.MaxDrives
		m.directory.Unlock()

		switch {
		case owned:
			continue
		case ejected:
			pkg.LogDebug(pkg.ComponentManager, "skipping ejected interface", "interface", info.ID)
			continue
		case full:
			pkg.LogWarn(pkg.ComponentManager, "drive limit reached",
				"interface", info.ID,
				"limit", m.opts.MaxDrives)
			continue
		}

		d, err := m.openDrive(m.ctx, info)
		if err != nil {
			pkg.LogWarn(pkg.ComponentManager, "drive unavailable",
				"interface", info.ID,
				"error", err)
			continue
		}
		if err := m.publish(d); err != nil {
			pkg.LogWarn(pkg.ComponentManager, "drive not published",
				"interface", info.ID,
				"error", err)
			_ = m.closeDrive(m.ctx, d, false, false)
			continue
		}
		changed = true
	}
	return changed
}

// reconcile tears down drives that failed during caller I/O and, if
// checkBus is set, drives whose interface left the bus. Reports whether any
// drive was removed.
func (m *Manager) reconcile(checkBus bool) bool {
	var present map[hal.InterfaceID]struct{}
	if checkBus {
		infos, err := m.hal.Interfaces(hal.MassStorageFilter)
		if err != nil {
			pkg.LogWarn(pkg.ComponentManager, "interface query failed", "error", err)
			checkBus = false
		} else {
			present = make(map[hal.InterfaceID]struct{}, len(infos))
			for i := range infos {
				present[infos[i].ID] = struct{}{}
			}
		}
	}

	var gone []*Drive
	m.directory.Lock()
	m.drives.each(func(_ VolumeHandle, d *Drive) bool {
		_, failed := m.failed[d.info.ID]
		_, attached := present[d.info.ID]
		if failed || (checkBus && !attached) {
			gone = append(gone, d)
		}
		return true
	})
	clear(m.failed)
	if checkBus {
		for id := range m.ejected {
			if _, ok := present[id]; !ok {
				delete(m.ejected, id)
			}
		}
	}
	m.directory.Unlock()

	changed := false
	for _, d := range gone {
		removed, err := m.teardown(m.ctx, d, false, false)
		if err != nil {
			pkg.LogWarn(pkg.ComponentManager, "teardown incomplete", "interface", d.info.ID, "error", err)
		}
		changed = changed || removed
	}
	return changed
}

// drain tears down every drive concurrently, stopping their units.
func (m *Manager) drain() (bool, error) {
	var all []*Drive
	m.directory.Lock()
	m.drives.each(func(_ VolumeHandle, d *Drive) bool {
		all = append(all, d)
		return true
	})
	m.directory.Unlock()

	var g errgroup.Group
	for _, d := range all {
		g.Go(func() error {
			_, err := m.teardown(m.ctx, d, true, false)
			return err
		})
	}
	return len(all) > 0, g.Wait()
}

// notify raises the status signal and runs the change callback.
func (m *Manager) notify() {
	m.status.raise()

	m.directory.Lock()
	cb := m.onChange
	vols := m.snapshot(m.volumes.len())
	m.directory.Unlock()

	if cb != nil {
		cb(vols)
	}
}

// =============================================================================
// Directory
// =============================================================================

// publish makes d and its volumes reachable, naming each volume. Fails with
// pkg.ErrNoResources if the drive table is full. Volumes that do not fit the
// volume table are unmounted.
func (m *Manager) publish(d *Drive) error {
	m.directory.Lock()
	h, ok := m.drives.insert(d)
	if !ok {
		m.directory.Unlock()
		return fmt.Errorf("drive table: %w", pkg.ErrNoResources)
	}
	d.handle = h
	m.owned[d.info.ID] = d

	// d is unreachable by callers until the directory is released.
	kept := d.volumes[:0]
	var dropped []*VolumeContext
	for _, v := range d.volumes {
		vh, ok := m.volumes.insert(v)
		if !ok {
			dropped = append(dropped, v)
			continue
		}
		v.handle = vh
		v.name = m.allocName()
		m.names[v.name] = vh
		kept = append(kept, v)
	}
	d.volumes = kept
	m.directory.Unlock()

	if len(dropped) > 0 {
		d.mutex.Lock()
		for _, v := range dropped {
			pkg.LogWarn(pkg.ComponentManager, "volume not published",
				"interface", d.info.ID,
				"index", v.index,
				"error", pkg.ErrNoResources)
			if err := v.mount.Unmount(); err != nil {
				pkg.LogWarn(pkg.ComponentManager, "unmount failed", "interface", d.info.ID, "error", err)
			}
		}
		d.mutex.Unlock()
	}

	for _, v := range d.volumes {
		if err := m.opts.DeviceTable.Add(v.name, v.handle); err != nil {
			pkg.LogWarn(pkg.ComponentManager, "device table rejected volume",
				"name", v.name,
				"error", err)
		}
		pkg.LogInfo(pkg.ComponentManager, "volume mounted", "volume", v.info())
	}
	pkg.LogInfo(pkg.ComponentManager, "drive added",
		"interface", d.info.ID,
		"vendor", d.vendor,
		"product", d.product,
		"units", len(d.units),
		"volumes", len(d.volumes))
	return nil
}

// unpublish removes d and its volumes from the directory, remembering its
// interface as ejected if requested. Returns false if d is not published.
func (m *Manager) unpublish(d *Drive, eject bool) bool {
	m.directory.Lock()
	defer m.directory.Unlock()

	if m.drives.get(d.handle) != d {
		return false
	}
	m.drives.remove(d.handle)
	for _, v := range d.volumes {
		if m.volumes.remove(v.handle) {
			delete(m.names, v.name)
			m.clearDefault(v.handle)
		}
	}
	delete(m.owned, d.info.ID)
	delete(m.failed, d.info.ID)
	if eject {
		m.ejected[d.info.ID] = struct{}{}
	}
	return true
}

// allocName returns the lowest free mount name. Caller holds the directory.
func (m *Manager) allocName() string {
	for i := 0; ; i++ {
		name := fmt.Sprintf("%s%d", m.opts.NamePrefix, i)
		if _, taken := m.names[name]; !taken {
			return name
		}
	}
}

// snapshot lists up to limit mounted volumes. Caller holds the directory.
func (m *Manager) snapshot(limit int) []VolumeInfo {
	if limit <= 0 {
		return nil
	}
	out := make([]VolumeInfo, 0, min(limit, m.volumes.len()))
	m.volumes.each(func(_ VolumeHandle, v *VolumeContext) bool {
		out = append(out, v.info())
		return len(out) < limit
	})
	return out
}

// markFailed queues d for removal after its transport failed during caller
// I/O.
func (m *Manager) markFailed(d *Drive) {
	m.directory.Lock()
	m.failed[d.info.ID] = struct{}{}
	m.directory.Unlock()

	pkg.LogWarn(pkg.ComponentManager, "drive failed", "interface", d.info.ID)
	select {
	case m.events <- event{kind: eventDeviceRemoved}:
	default:
	}
}

// =============================================================================
// Discovery
// =============================================================================

// PhysicalDeviceCount returns the number of live drives.
func (m *Manager) PhysicalDeviceCount() int {
	m.directory.Lock()
	defer m.directory.Unlock()
	return m.drives.len()
}

// MountedVolumeCount returns the number of mounted volumes.
func (m *Manager) MountedVolumeCount() int {
	m.directory.Lock()
	defer m.directory.Unlock()
	return m.volumes.len()
}

// ListMountedVolumes returns up to max mounted volumes.
func (m *Manager) ListMountedVolumes(max int) []VolumeInfo {
	m.directory.Lock()
	defer m.directory.Unlock()
	return m.snapshot(max)
}

// UnmountVolume tears down the drive holding the volume described by info,
// stopping and ejecting its units. The interface is left alone until it
// leaves the bus. Returns false if the volume is no longer mounted.
func (m *Manager) UnmountVolume(info VolumeInfo) bool {
	m.directory.Lock()
	v := m.volumes.get(info.Handle)
	if v == nil || v.drive.info.ID != info.ID {
		m.directory.Unlock()
		return false
	}
	d := v.drive
	m.directory.Unlock()

	removed, err := m.teardown(context.Background(), d, true, true)
	if err != nil {
		pkg.LogWarn(pkg.ComponentManager, "teardown incomplete", "interface", d.info.ID, "error", err)
	}
	if removed {
		m.notify()
	}
	return removed
}

// SetMountFlags sets the flags applied to future mounts.
func (m *Manager) SetMountFlags(flags MountFlags) {
	m.directory.Lock()
	defer m.directory.Unlock()
	m.flags = flags
}

// MountFlags returns the flags applied to future mounts.
func (m *Manager) MountFlags() MountFlags {
	m.directory.Lock()
	defer m.directory.Unlock()
	return m.flags
}

// =============================================================================
// Notification
// =============================================================================

// StatusChanged returns the level-triggered status signal. A receive
// succeeds once after any number of changes and clears the signal.
func (m *Manager) StatusChanged() <-chan struct{} {
	return m.status
}

// WaitStatusChange blocks until the status signal is raised or ctx is done,
// clearing the signal.
func (m *Manager) WaitStatusChange(ctx context.Context) error {
	return m.status.wait(ctx)
}

// SetOnChange sets a callback invoked with the mounted volumes after every
// change to the live set. It runs on the goroutine that made the change,
// usually the worker, so it must not call Rescan or Shutdown.
func (m *Manager) SetOnChange(fn func([]VolumeInfo)) {
	m.directory.Lock()
	defer m.directory.Unlock()
	m.onChange = fn
}

// =============================================================================
// Caller I/O
// =============================================================================

// WithVolume runs fn with the volume named by h while its drive is locked.
// It fails with pkg.ErrStaleHandle once the volume is gone.
func (m *Manager) WithVolume(h VolumeHandle, fn func(*VolumeContext) error) error {
	m.directory.Lock()
	v := m.volumes.get(h)
	if v == nil {
		m.directory.Unlock()
		return fmt.Errorf("volume %s: %w", h, pkg.ErrStaleHandle)
	}
	return m.use(v, func() error { return fn(v) })
}

// WithPath parses s, resolves it against the current directory of the named
// or default volume, and runs fn while the volume's drive is locked.
func (m *Manager) WithPath(s string, fn func(*VolumeContext, Path) error) error {
	p, err := ParsePath(s)
	if err != nil {
		return err
	}
	var want VolumeHandle
	if p.Device == "" {
		if p.Device, want = m.defaultVolume(); p.Device == "" {
			return fmt.Errorf("%w: %q names no device and none is default", pkg.ErrInvalidPath, s)
		}
	}

	m.directory.Lock()
	h, ok := m.names[p.Device]
	if !ok || (!want.IsZero() && h != want) {
		m.directory.Unlock()
		return fmt.Errorf("%s: %w", p.Device, pkg.ErrNotMounted)
	}
	v := m.volumes.get(h)
	return m.use(v, func() error { return fn(v, p.Resolve(v.cwd)) })
}

// use locks v's drive, releases the directory and runs fn. Caller holds the
// directory.
func (m *Manager) use(v *VolumeContext, fn func() error) error {
	d := v.drive
	d.mutex.Lock()
	m.directory.Unlock()

	failed := false
	err := func() error {
		defer d.mutex.Unlock()
		if d.dead {
			return fmt.Errorf("volume %s: %w", v.handle, pkg.ErrStaleHandle)
		}
		err := fn()
		failed = err != nil && !d.transport.Usable()
		return err
	}()

	// The directory is locked before any drive, never after.
	if failed {
		m.markFailed(d)
	}
	return err
}

// Chdir sets the current directory of the named or default volume.
func (m *Manager) Chdir(s string) error {
	return m.WithPath(s, func(v *VolumeContext, p Path) error {
		v.cwd = p.Name
		return nil
	})
}

// SetDefaultDevice selects the volume used by paths without a device name.
// An empty name clears it. The selection is cleared when that volume is
// unmounted.
func (m *Manager) SetDefaultDevice(name string) error {
	name = strings.TrimSuffix(name, ":")

	m.directory.Lock()
	defer m.directory.Unlock()

	var h VolumeHandle
	if name != "" {
		var ok bool
		if h, ok = m.names[name]; !ok {
			return fmt.Errorf("%s: %w", name, pkg.ErrNotMounted)
		}
	}

	m.defaultMutex.Lock()
	m.defaultDevice, m.defaultHandle = name, h
	m.defaultMutex.Unlock()
	return nil
}

// DefaultDevice returns the volume used by paths without a device name.
func (m *Manager) DefaultDevice() string {
	name, _ := m.defaultVolume()
	return name
}

func (m *Manager) defaultVolume() (string, VolumeHandle) {
	m.defaultMutex.Lock()
	defer m.defaultMutex.Unlock()
	return m.defaultDevice, m.defaultHandle
}

// clearDefault forgets the default device if it is h. Caller holds the
// directory.
func (m *Manager) clearDefault(h VolumeHandle) {
	m.defaultMutex.Lock()
	defer m.defaultMutex.Unlock()
	if m.defaultDevice != "" && m.defaultHandle == h {
		m.defaultDevice, m.defaultHandle = "", VolumeHandle{}
	}
}
