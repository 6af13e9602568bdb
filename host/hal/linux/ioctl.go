//go:build linux && !mips && !mipsle && !mips64 && !mips64le && !ppc64 && !ppc64le

package linux

import "unsafe"

// Generic ioctl number layout:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

// ioc constructs an ioctl number from direction, type, number, and size.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ion(typ, nr uintptr) uintptr { return ioc(iocNone, typ, nr, 0) }
func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs requests.
var (
	ioctlUsbdevfsControl          = iowr(usbdevfsType, 0, unsafe.Sizeof(ctrlTransfer{}))
	ioctlUsbdevfsBulk             = iowr(usbdevfsType, 2, unsafe.Sizeof(bulkTransfer{}))
	ioctlUsbdevfsClaimInterface   = ior(usbdevfsType, 15, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsReleaseInterface = ior(usbdevfsType, 16, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsIoctl            = iowr(usbdevfsType, 18, unsafe.Sizeof(ifaceIoctl{}))
	ioctlUsbdevfsReset            = ion(usbdevfsType, 20)
	ioctlUsbdevfsClearHalt        = ior(usbdevfsType, 21, unsafe.Sizeof(uint32(0)))
	ioctlUsbdevfsDisconnect       = ion(usbdevfsType, 22)
	ioctlUsbdevfsConnect          = ion(usbdevfsType, 23)
)
