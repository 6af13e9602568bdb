// Package linux implements hal.HostHAL on Linux without cgo.
//
// Interfaces are discovered by walking sysfs (/sys/bus/usb/devices), which
// also supplies the string descriptors and bulk endpoint addresses. Claimed
// interfaces are driven through usbfs (/dev/bus/usb/BBB/DDD): the kernel
// driver is detached on Claim and allowed to rebind on Release, and control,
// bulk and reset requests are synchronous ioctls whose timeout is derived
// from the caller's context deadline.
//
// Hot-plug uses a netlink uevent socket multiplexed with epoll. Only
// mass-storage interface arrivals and device or interface removals are
// reported; every notification is a hint to rescan.
//
// # Requirements
//
// The process needs read/write access to the device nodes in /dev/bus/usb,
// either as root or through a udev rule. Without netlink access, Init logs a
// warning and the HAL serves explicit rescans only.
package linux
