//go:build linux

package linux

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstore/host/hal"
)

// =============================================================================
// UEvent Types
// =============================================================================

// ueventAction represents a udev action.
type ueventAction uint8

const (
	ueventUnknown ueventAction = iota
	ueventAdd
	ueventRemove
	ueventChange
	ueventBind
	ueventUnbind
)

// parseAction maps an action name to its ueventAction.
func parseAction(s string) ueventAction {
	switch s {
	case "add":
		return ueventAdd
	case "remove":
		return ueventRemove
	case "change":
		return ueventChange
	case "bind":
		return ueventBind
	case "unbind":
		return ueventUnbind
	}
	return ueventUnknown
}

// uevent represents a parsed netlink uevent.
type uevent struct {
	action    ueventAction
	devpath   string // DEVPATH value
	subsystem string // SUBSYSTEM value
	devtype   string // DEVTYPE value
	busnum    string // BUSNUM value
	devnum    string // DEVNUM value
	iface     string // INTERFACE value, class/subclass/protocol in decimal
}

// massStorageInterface is the INTERFACE value of a Bulk-Only mass-storage
// interface.
var massStorageInterface = fmt.Sprintf("%d/%d/%d",
	hal.ClassMassStorage, hal.SubclassSCSI, hal.ProtocolBulkOnly)

// =============================================================================
// UEvent Parsing
// =============================================================================

// parseUEvent parses a netlink uevent message.
func parseUEvent(data []byte) uevent {
	var evt uevent

	for _, line := range bytes.Split(data, []byte{0}) {
		if len(line) == 0 {
			continue
		}
		s := string(line)

		key, value, ok := strings.Cut(s, "=")
		if !ok {
			// Header line: action@devpath
			if action, devpath, ok := strings.Cut(s, "@"); ok {
				evt.action = parseAction(action)
				evt.devpath = devpath
			}
			continue
		}

		switch key {
		case "ACTION":
			evt.action = parseAction(value)
		case "DEVPATH":
			evt.devpath = value
		case "SUBSYSTEM":
			evt.subsystem = value
		case "DEVTYPE":
			evt.devtype = value
		case "BUSNUM":
			evt.busnum = value
		case "DEVNUM":
			evt.devnum = value
		case "INTERFACE":
			evt.iface = value
		}
	}
	return evt
}

// deviceID returns the interface ID of interface 0 on the device named by
// the BUSNUM and DEVNUM keys.
func (e *uevent) deviceID() hal.InterfaceID {
	bus, err := strconv.ParseUint(e.busnum, 10, 8)
	if err != nil {
		return 0
	}
	dev, err := strconv.ParseUint(e.devnum, 10, 8)
	if err != nil {
		return 0
	}
	return hal.MakeInterfaceID(uint8(bus), uint8(dev), 0)
}

// toEvent maps a uevent onto a bus notification. Mass-storage interfaces
// appearing report availability; devices or mass-storage interfaces going
// away report a state change. Everything else is ignored.
func (e *uevent) toEvent() (hal.Event, bool) {
	if e.subsystem != "usb" {
		return hal.Event{}, false
	}
	switch {
	case e.devtype == "usb_interface" && e.iface == massStorageInterface:
		switch e.action {
		case ueventAdd:
			return hal.Event{Kind: hal.EventInterfaceAvailable}, true
		case ueventRemove:
			return hal.Event{Kind: hal.EventInterfaceStateChanged}, true
		}
	case e.devtype == "usb_device" && e.action == ueventRemove:
		return hal.Event{Kind: hal.EventInterfaceStateChanged, ID: e.deviceID()}, true
	}
	return hal.Event{}, false
}

// =============================================================================
// Hotplug Monitor
// =============================================================================

// hotplugMonitor reads kernel uevents from a netlink socket.
type hotplugMonitor struct {
	fd  int                    // Netlink socket file descriptor
	buf [UEventBufferSize]byte // Buffer for receiving events
}

// newHotplugMonitor opens a non-blocking netlink socket bound to the kernel
// uevent group.
func newHotplugMonitor() (*hotplugMonitor, error) {
	fd, err := unix.Socket(
		unix.AF_NETLINK,
		unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK,
		unix.NETLINK_KOBJECT_UEVENT,
	)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}

	addr := unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: ueventGroupKernel,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	return &hotplugMonitor{fd: fd}, nil
}

// close closes the netlink socket.
func (h *hotplugMonitor) close() error {
	return unix.Close(h.fd)
}

// drain reads every queued uevent and passes the notifications they map to
// to emit.
func (h *hotplugMonitor) drain(emit func(hal.Event)) error {
	for {
		n, err := unix.Read(h.fd, h.buf[:])
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOBUFS):
			// Messages were dropped; ask for a full rescan.
			emit(hal.Event{Kind: hal.EventInterfaceStateChanged})
			emit(hal.Event{Kind: hal.EventInterfaceAvailable})
			continue
		case err != nil:
			return err
		case n <= 0:
			return nil
		}

		evt := parseUEvent(h.buf[:n])
		if ev, ok := evt.toEvent(); ok {
			emit(ev)
		}
	}
}
