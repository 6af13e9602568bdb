//go:build linux

package linux

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstore/pkg"
)

// =============================================================================
// Kernel Structures
// =============================================================================

// ctrlTransfer matches the kernel's struct usbdevfs_ctrltransfer.
type ctrlTransfer struct {
	requestType uint8   // bmRequestType
	request     uint8   // bRequest
	value       uint16  // wValue
	index       uint16  // wIndex
	length      uint16  // wLength
	timeout     uint32  // Timeout in milliseconds
	data        uintptr // Data buffer pointer
}

// bulkTransfer matches the kernel's struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32  // Endpoint address
	length   uint32  // Data length
	timeout  uint32  // Timeout in milliseconds
	data     uintptr // Data buffer pointer
}

// ifaceIoctl matches the kernel's struct usbdevfs_ioctl, which forwards a
// request to the driver bound to one interface.
type ifaceIoctl struct {
	ifno int32   // Interface number
	code int32   // Request forwarded to the interface
	data uintptr // Request argument
}

// =============================================================================
// Raw Syscall Wrappers
// =============================================================================

// openDevice opens a USB device node for read/write access.
func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

// ioctl performs an ioctl and returns its result, retrying on EINTR.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	for {
		r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return int(r), nil
		case unix.EINTR:
			continue
		default:
			return int(r), errno
		}
	}
}

// =============================================================================
// USBDEVFS Operations
// =============================================================================

// controlTransfer performs a synchronous control transfer.
func controlTransfer(fd int, reqType, req uint8, value, index uint16, data []byte, timeout uint32) (int, error) {
	ctrl := ctrlTransfer{
		requestType: reqType,
		request:     req,
		value:       value,
		index:       index,
		length:      uint16(len(data)),
		timeout:     timeout,
	}
	if len(data) > 0 {
		ctrl.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctl(fd, ioctlUsbdevfsControl, unsafe.Pointer(&ctrl))
}

// bulkTransferSync performs a synchronous bulk transfer.
func bulkTransferSync(fd int, endpoint uint8, data []byte, timeout uint32) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeout,
	}
	if len(data) > 0 {
		bulk.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctl(fd, ioctlUsbdevfsBulk, unsafe.Pointer(&bulk))
}

// claimInterface claims exclusive access to an interface.
func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctl(fd, ioctlUsbdevfsClaimInterface, unsafe.Pointer(&n))
	return err
}

// releaseInterface releases a previously claimed interface.
func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctl(fd, ioctlUsbdevfsReleaseInterface, unsafe.Pointer(&n))
	return err
}

// disconnectDriver detaches the kernel driver bound to iface. ENODATA means
// no driver was bound.
func disconnectDriver(fd int, iface uint8) error {
	cmd := ifaceIoctl{ifno: int32(iface), code: int32(ioctlUsbdevfsDisconnect)}
	_, err := ioctl(fd, ioctlUsbdevfsIoctl, unsafe.Pointer(&cmd))
	if errors.Is(err, unix.ENODATA) {
		return nil
	}
	return err
}

// connectDriver lets the kernel rebind a driver to iface.
func connectDriver(fd int, iface uint8) error {
	cmd := ifaceIoctl{ifno: int32(iface), code: int32(ioctlUsbdevfsConnect)}
	_, err := ioctl(fd, ioctlUsbdevfsIoctl, unsafe.Pointer(&cmd))
	return err
}

// resetDevice issues a port reset.
func resetDevice(fd int) error {
	_, err := ioctl(fd, ioctlUsbdevfsReset, nil)
	return err
}

// clearHalt clears a halt on endpoint and resets its data toggle.
func clearHalt(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	_, err := ioctl(fd, ioctlUsbdevfsClearHalt, unsafe.Pointer(&ep))
	return err
}

// =============================================================================
// Error and Timeout Helpers
// =============================================================================

// mapErrno translates usbfs errno values into package errors.
func mapErrno(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	if errno == unix.EBUSY {
		return pkg.ErrBusy
	}
	if s, ok := errnoStatus(errno); ok {
		return s.Error()
	}
	return err
}

// errnoStatus classifies a failed usbfs transfer.
func errnoStatus(errno unix.Errno) (pkg.TransferStatus, bool) {
	switch errno {
	case unix.ENODEV, unix.ESHUTDOWN:
		return pkg.TransferStatusNoDevice, true
	case unix.EPIPE:
		return pkg.TransferStatusStall, true
	case unix.ETIMEDOUT:
		return pkg.TransferStatusTimeout, true
	case unix.ECONNRESET:
		return pkg.TransferStatusCancelled, true
	case unix.EOVERFLOW:
		return pkg.TransferStatusOverrun, true
	case unix.EPROTO, unix.EILSEQ:
		return pkg.TransferStatusError, true
	}
	return pkg.TransferStatusSuccess, false
}

// timeoutMillis converts the time left before deadline into a usbfs timeout,
// or uses def when there is no deadline. The result is at least 1 so the
// kernel never waits forever.
func timeoutMillis(deadline time.Time, ok bool, def time.Duration) uint32 {
	d := def
	if ok {
		d = time.Until(deadline)
	}
	ms := d.Milliseconds()
	switch {
	case ms < 1:
		return 1
	case ms > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(ms)
}
