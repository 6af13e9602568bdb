//go:build linux

package linux

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/hal"
)

// writeAttrs creates dir and writes each attribute file in it.
func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, value := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644))
	}
}

// sysfsFixture builds a sysfs tree with a root hub, a flash drive on 1-1 and
// a keyboard on 1-2.
func sysfsFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeAttrs(t, filepath.Join(root, "usb1"), map[string]string{"busnum": "1", "devnum": "1"})

	drive := filepath.Join(root, "1-1")
	writeAttrs(t, drive, map[string]string{
		"busnum":       "1",
		"devnum":       "4",
		"idVendor":     "0781",
		"idProduct":    "5567",
		"manufacturer": "SanDisk",
		"product":      "Cruzer Blade",
		"serial":       "4C530001",
		"speed":        "480",
	})
	writeAttrs(t, filepath.Join(drive, "1-1:1.0"), map[string]string{
		"bInterfaceNumber":   "00",
		"bInterfaceClass":    "08",
		"bInterfaceSubClass": "06",
		"bInterfaceProtocol": "50",
	})
	writeAttrs(t, filepath.Join(drive, "1-1:1.0", "ep_81"), map[string]string{
		"bEndpointAddress": "81",
		"bmAttributes":     "02",
		"wMaxPacketSize":   "0200",
	})
	writeAttrs(t, filepath.Join(drive, "1-1:1.0", "ep_02"), map[string]string{
		"bEndpointAddress": "02",
		"bmAttributes":     "02",
		"wMaxPacketSize":   "0200",
	})

	kbd := filepath.Join(root, "1-2")
	writeAttrs(t, kbd, map[string]string{
		"busnum":    "1",
		"devnum":    "5",
		"idVendor":  "046d",
		"idProduct": "c31c",
		"speed":     "1.5",
	})
	writeAttrs(t, filepath.Join(kbd, "1-2:1.0"), map[string]string{
		"bInterfaceNumber":   "00",
		"bInterfaceClass":    "03",
		"bInterfaceSubClass": "01",
		"bInterfaceProtocol": "01",
	})
	writeAttrs(t, filepath.Join(kbd, "1-2:1.0", "ep_81"), map[string]string{
		"bEndpointAddress": "81",
		"bmAttributes":     "03",
		"wMaxPacketSize":   "0008",
	})

	// A device whose busnum vanished mid-scan is skipped.
	writeAttrs(t, filepath.Join(root, "2-1"), map[string]string{"devnum": "2"})
	return root
}

func TestScanUSBDevices(t *testing.T) {
	root := sysfsFixture(t)

	devices, err := scanUSBDevices(root)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	d := devices[0]
	assert.Equal(t, uint8(1), d.busNum)
	assert.Equal(t, uint8(4), d.devNum)
	assert.Equal(t, uint16(0x0781), d.vendorID)
	assert.Equal(t, uint16(0x5567), d.productID)
	assert.Equal(t, "SanDisk", d.manufacturer)
	assert.Equal(t, "Cruzer Blade", d.product)
	assert.Equal(t, "4C530001", d.serial)
	assert.Equal(t, hal.SpeedHigh, d.speed)
	require.Len(t, d.interfaces, 1)
	assert.Len(t, d.interfaces[0].endpoints, 2)

	assert.Equal(t, hal.SpeedLow, devices[1].speed)
	assert.Empty(t, devices[1].manufacturer)
}

func TestScanUSBDevices_MissingRoot(t *testing.T) {
	_, err := scanUSBDevices(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestInterfaceInfo(t *testing.T) {
	d := usbDeviceInfo{busNum: 3, devNum: 9, vendorID: 0x1234, productID: 0x5678}
	iface := usbInterfaceInfo{
		number:   1,
		class:    hal.ClassMassStorage,
		subclass: hal.SubclassSCSI,
		protocol: hal.ProtocolBulkOnly,
		endpoints: []usbEndpointInfo{
			{address: 0x83, attributes: hal.EndpointTypeInterrupt, maxPacketSize: 8},
			{address: 0x04, attributes: hal.EndpointTypeBulk, maxPacketSize: 64},
			{address: 0x85, attributes: hal.EndpointTypeBulk, maxPacketSize: 64},
			{address: 0x86, attributes: hal.EndpointTypeBulk, maxPacketSize: 512},
		},
	}

	info := d.interfaceInfo(&iface)
	assert.Equal(t, hal.MakeInterfaceID(3, 9, 1), info.ID)
	assert.Equal(t, uint8(0x85), info.BulkIn)
	assert.Equal(t, uint8(0x04), info.BulkOut)
	assert.Equal(t, uint16(64), info.MaxPacketSize)
	assert.True(t, hal.MassStorageFilter.Match(&info))

	iface.endpoints = iface.endpoints[:2]
	info = d.interfaceInfo(&iface)
	assert.Zero(t, info.BulkIn)
	assert.False(t, hal.MassStorageFilter.Match(&info))
}

func TestFormatDevfsPath(t *testing.T) {
	tests := []struct {
		busNum   uint8
		devNum   uint8
		expected string
	}{
		{1, 1, "/dev/bus/usb/001/001"},
		{1, 123, "/dev/bus/usb/001/123"},
		{12, 34, "/dev/bus/usb/012/034"},
		{255, 255, "/dev/bus/usb/255/255"},
	}

	for _, tt := range tests {
		got := formatDevfsPath(DevfsUSBPath, tt.busNum, tt.devNum)
		if got != tt.expected {
			t.Errorf("formatDevfsPath(%d, %d) = %q, want %q",
				tt.busNum, tt.devNum, got, tt.expected)
		}
	}
}

func TestParseSpeed(t *testing.T) {
	tests := []struct {
		input    string
		expected hal.Speed
	}{
		{"1.5", hal.SpeedLow},
		{"12", hal.SpeedFull},
		{"480", hal.SpeedHigh},
		{"5000", hal.SpeedSuper},
		{"20000", hal.SpeedSuper},
		{"", hal.SpeedUnknown},
		{"invalid", hal.SpeedUnknown},
	}

	for _, tt := range tests {
		got := parseSpeed(tt.input)
		if got != tt.expected {
			t.Errorf("parseSpeed(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
