//go:build linux

package linux

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstore/pkg"
)

// deviceKey identifies an open device node.
type deviceKey struct {
	bus, dev uint8
}

// deviceConn is an open usbfs device node shared by the claimed interfaces of
// one device.
type deviceConn struct {
	key  deviceKey
	path string

	// Transfers hold the read lock; closing takes the write lock.
	mutex   sync.RWMutex
	fd      int
	claimed uint32 // Bitmask of claimed interfaces
	closed  bool
}

// openDeviceConn opens the device node at path.
func openDeviceConn(key deviceKey, path string) (*deviceConn, error) {
	fd, err := openDevice(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, mapErrno(err))
	}
	return &deviceConn{key: key, path: path, fd: fd}, nil
}

// claim detaches the kernel driver from iface and claims it.
func (d *deviceConn) claim(iface uint8) error {
	if iface >= MaxInterfacesPerDevice {
		return pkg.ErrInvalidParameter
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return pkg.ErrNoDevice
	}
	mask := uint32(1) << iface
	if d.claimed&mask != 0 {
		return pkg.ErrBusy
	}
	if err := disconnectDriver(d.fd, iface); err != nil {
		return fmt.Errorf("detach driver: %w", mapErrno(err))
	}
	if err := claimInterface(d.fd, iface); err != nil {
		return fmt.Errorf("claim: %w", mapErrno(err))
	}
	d.claimed |= mask
	return nil
}

// release releases iface and lets the kernel rebind its driver. It reports
// whether any interface remains claimed.
func (d *deviceConn) release(iface uint8) (bool, error) {
	if iface >= MaxInterfacesPerDevice {
		return false, pkg.ErrInvalidParameter
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	mask := uint32(1) << iface
	if d.closed || d.claimed&mask == 0 {
		return d.claimed != 0, pkg.ErrNoDevice
	}
	d.claimed &^= mask

	err := releaseInterface(d.fd, iface)
	if err == nil {
		err = connectDriver(d.fd, iface)
	}
	if err != nil {
		err = mapErrno(err)
	}
	return d.claimed != 0, err
}

// isClaimed reports whether iface is claimed on this device.
func (d *deviceConn) isClaimed(iface uint8) bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return !d.closed && iface < MaxInterfacesPerDevice && d.claimed&(1<<iface) != 0
}

// do runs fn with the descriptor unless the connection is closed. usbfs
// errors are mapped to package errors.
func (d *deviceConn) do(fn func(fd int) (int, error)) (int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if d.closed {
		return 0, pkg.ErrNoDevice
	}
	n, err := fn(d.fd)
	if err != nil {
		return 0, mapErrno(err)
	}
	return n, nil
}

// close releases every claimed interface and closes the node. It is safe to
// call more than once.
func (d *deviceConn) close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for i := uint8(0); i < MaxInterfacesPerDevice; i++ {
		if d.claimed&(1<<i) == 0 {
			continue
		}
		if err := releaseInterface(d.fd, i); err != nil && !errors.Is(err, unix.ENODEV) {
			errs = append(errs, err)
		}
		_ = connectDriver(d.fd, i)
	}
	d.claimed = 0
	errs = append(errs, unix.Close(d.fd))
	return errors.Join(errs...)
}
