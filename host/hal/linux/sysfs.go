//go:build linux

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ardnew/usbstore/host/hal"
)

// =============================================================================
// USB Device Information
// =============================================================================

// usbDeviceInfo holds information about a USB device discovered via sysfs.
type usbDeviceInfo struct {
	sysfsPath    string    // Path in /sys/bus/usb/devices
	busNum       uint8     // Bus number
	devNum       uint8     // Device number
	vendorID     uint16    // idVendor
	productID    uint16    // idProduct
	manufacturer string    // iManufacturer string, may be empty
	product      string    // iProduct string, may be empty
	serial       string    // iSerialNumber string, may be empty
	speed        hal.Speed // Device speed

	interfaces []usbInterfaceInfo
}

// usbInterfaceInfo holds information about a USB interface.
type usbInterfaceInfo struct {
	number    uint8 // bInterfaceNumber
	class     uint8 // bInterfaceClass
	subclass  uint8 // bInterfaceSubClass
	protocol  uint8 // bInterfaceProtocol
	endpoints []usbEndpointInfo
}

// usbEndpointInfo holds the descriptor fields of one endpoint.
type usbEndpointInfo struct {
	address       uint8  // bEndpointAddress
	attributes    uint8  // bmAttributes
	maxPacketSize uint16 // wMaxPacketSize
}

// isBulk reports whether the endpoint uses bulk transfers.
func (e *usbEndpointInfo) isBulk() bool {
	return e.attributes&0x03 == hal.EndpointTypeBulk
}

// isIn reports whether the endpoint moves data device to host.
func (e *usbEndpointInfo) isIn() bool {
	return e.address&hal.EndpointDirectionIn != 0
}

// interfaceInfo describes iface of d for the HAL interface.
func (d *usbDeviceInfo) interfaceInfo(iface *usbInterfaceInfo) hal.InterfaceInfo {
	info := hal.InterfaceInfo{
		ID:           hal.MakeInterfaceID(d.busNum, d.devNum, iface.number),
		VendorID:     d.vendorID,
		ProductID:    d.productID,
		Manufacturer: d.manufacturer,
		Product:      d.product,
		Serial:       d.serial,
		Speed:        d.speed,
		Class:        iface.class,
		Subclass:     iface.subclass,
		Protocol:     iface.protocol,
	}
	for i := range iface.endpoints {
		ep := &iface.endpoints[i]
		if !ep.isBulk() {
			continue
		}
		if ep.isIn() && info.BulkIn == 0 {
			info.BulkIn = ep.address
			info.MaxPacketSize = ep.maxPacketSize
		} else if !ep.isIn() && info.BulkOut == 0 {
			info.BulkOut = ep.address
		}
	}
	return info
}

// =============================================================================
// Sysfs Parsing
// =============================================================================

// scanUSBDevices scans root (normally SysfsUSBPath) for USB devices.
func scanUSBDevices(root string) ([]usbDeviceInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var devices []usbDeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Devices are named like "1-1" or "1-1.2". Root hubs ("usb1") and
		// interfaces ("1-1:1.0") are skipped.
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		info, err := parseUSBDevice(filepath.Join(root, name))
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	return devices, nil
}

// parseUSBDevice parses USB device information from sysfs.
func parseUSBDevice(sysfsPath string) (usbDeviceInfo, error) {
	info := usbDeviceInfo{sysfsPath: sysfsPath}

	var err error
	if info.busNum, err = readSysfsUint8(filepath.Join(sysfsPath, "busnum")); err != nil {
		return info, err
	}
	if info.devNum, err = readSysfsUint8(filepath.Join(sysfsPath, "devnum")); err != nil {
		return info, err
	}

	info.vendorID, _ = readSysfsHexUint16(filepath.Join(sysfsPath, "idVendor"))
	info.productID, _ = readSysfsHexUint16(filepath.Join(sysfsPath, "idProduct"))
	info.manufacturer, _ = readSysfsString(filepath.Join(sysfsPath, "manufacturer"))
	info.product, _ = readSysfsString(filepath.Join(sysfsPath, "product"))
	info.serial, _ = readSysfsString(filepath.Join(sysfsPath, "serial"))

	if speed, err := readSysfsString(filepath.Join(sysfsPath, "speed")); err == nil {
		info.speed = parseSpeed(speed)
	}

	info.interfaces = scanInterfaces(sysfsPath)
	return info, nil
}

// scanInterfaces scans sysfs for interfaces of a device.
func scanInterfaces(devicePath string) []usbInterfaceInfo {
	entries, err := os.ReadDir(devicePath)
	if err != nil {
		return nil
	}

	var interfaces []usbInterfaceInfo
	prefix := filepath.Base(devicePath) + ":"

	for _, entry := range entries {
		// Interface entries are named <device>:<config>.<interface>
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		iface, err := parseInterface(filepath.Join(devicePath, entry.Name()))
		if err != nil {
			continue
		}
		interfaces = append(interfaces, iface)
	}
	return interfaces
}

// parseInterface parses USB interface information from sysfs.
func parseInterface(sysfsPath string) (usbInterfaceInfo, error) {
	var info usbInterfaceInfo

	var err error
	if info.number, err = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceNumber")); err != nil {
		return info, err
	}
	info.class, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceClass"))
	info.subclass, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceSubClass"))
	info.protocol, _ = readSysfsHexUint8(filepath.Join(sysfsPath, "bInterfaceProtocol"))

	entries, err := os.ReadDir(sysfsPath)
	if err != nil {
		return info, nil
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "ep_") {
			continue
		}
		ep, err := parseEndpoint(filepath.Join(sysfsPath, entry.Name()))
		if err != nil {
			continue
		}
		info.endpoints = append(info.endpoints, ep)
	}
	return info, nil
}

// parseEndpoint parses an ep_XX directory.
func parseEndpoint(sysfsPath string) (usbEndpointInfo, error) {
	var ep usbEndpointInfo

	var err error
	if ep.address, err = readSysfsHexUint8(filepath.Join(sysfsPath, "bEndpointAddress")); err != nil {
		return ep, err
	}
	if ep.attributes, err = readSysfsHexUint8(filepath.Join(sysfsPath, "bmAttributes")); err != nil {
		return ep, err
	}
	ep.maxPacketSize, _ = readSysfsHexUint16(filepath.Join(sysfsPath, "wMaxPacketSize"))
	return ep, nil
}

// =============================================================================
// Sysfs Read Helpers
// =============================================================================

// readSysfsString reads a string from a sysfs attribute file.
func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readSysfsUint8 reads an unsigned decimal uint8 from a sysfs attribute file.
func readSysfsUint8(path string) (uint8, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	return uint8(v), err
}

// readSysfsHex reads a hexadecimal value from a sysfs attribute file.
func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

// readSysfsHexUint8 reads a hexadecimal uint8 from a sysfs attribute file.
func readSysfsHexUint8(path string) (uint8, error) {
	v, err := readSysfsHex(path, 8)
	return uint8(v), err
}

// readSysfsHexUint16 reads a hexadecimal uint16 from a sysfs attribute file.
func readSysfsHexUint16(path string) (uint16, error) {
	v, err := readSysfsHex(path, 16)
	return uint16(v), err
}

// =============================================================================
// Path and Speed Helpers
// =============================================================================

// formatDevfsPath constructs a device node path below root from bus and
// device numbers.
func formatDevfsPath(root string, busNum, devNum uint8) string {
	return filepath.Join(root, fmt.Sprintf("%03d", busNum), fmt.Sprintf("%03d", devNum))
}

// parseSpeed converts a sysfs speed string (Mbit/s) to a hal.Speed value.
func parseSpeed(s string) hal.Speed {
	switch s {
	case "1.5":
		return hal.SpeedLow
	case "12":
		return hal.SpeedFull
	case "480":
		return hal.SpeedHigh
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 5000 {
		return hal.SpeedSuper
	}
	return hal.SpeedUnknown
}
