package linux

import "time"

// =============================================================================
// System Paths
// =============================================================================

// SysfsUSBPath is the base path for USB devices in sysfs.
const SysfsUSBPath = "/sys/bus/usb/devices"

// DevfsUSBPath is the base path for USB device nodes.
const DevfsUSBPath = "/dev/bus/usb"

// =============================================================================
// Limits
// =============================================================================

// MaxInterfacesPerDevice is the number of interface claims tracked per device.
const MaxInterfacesPerDevice = 32

// MaxControlTransferSize is the largest control data stage usbfs accepts.
const MaxControlTransferSize = 4096

// DefaultTransferTimeout bounds a transfer whose context has no deadline.
const DefaultTransferTimeout = 5 * time.Second

// =============================================================================
// Netlink
// =============================================================================

// UEventBufferSize is the buffer size for netlink messages.
const UEventBufferSize = 4096

// ueventGroupKernel is the multicast group of kernel-originated uevents.
const ueventGroupKernel = 1

// maxEpollEvents is the maximum events to retrieve per epoll_wait call.
const maxEpollEvents = 8
