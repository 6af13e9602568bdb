package usbid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleIDs = `# List of USB ID's
#
0781  SanDisk Corp.
	5567  Cruzer Blade
	5581  Ultra
090c  Silicon Motion, Inc. - Taiwan (formerly Feiya Technology Corp.)
	1000  Flash Drive
badx  Not a vendor
	0001  Orphan product

C 00  (Defined at Interface level)
C 08  Mass Storage
	01  RBC (typically Flash)
		00  Control/Bulk/Interrupt
	06  SCSI
		50  Bulk-Only
		62  USB Attached SCSI
C 09  Hub

AT 0409  English - United States
HID 00  Undefined
`

func TestParse(t *testing.T) {
	db := NewWithPaths(nil)
	require.NoError(t, db.Parse(strings.NewReader(sampleIDs)))

	assert.Equal(t, 2, db.VendorCount())
	assert.Equal(t, 3, db.ProductCount())

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"vendor", db.Vendor(0x0781), "SanDisk Corp."},
		{"product", db.Product(0x0781, 0x5567), "Cruzer Blade"},
		{"second vendor product", db.Product(0x090c, 0x1000), "Flash Drive"},
		{"unknown vendor", db.Vendor(0xFFFF), ""},
		{"orphan product", db.Product(0xbad0, 0x0001), ""},
		{"class", db.Class(0x09, 0, 0), "Hub"},
		{"subclass", db.Class(0x08, 0x01, 0x99), "Mass Storage / RBC (typically Flash)"},
		{"protocol", db.Class(0x08, 0x06, 0x50), "Mass Storage / SCSI / Bulk-Only"},
		{"unknown class", db.Class(0xEF, 0, 0), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	db := NewWithPaths([]string{"/nonexistent/path/usb.ids"})
	assert.False(t, db.Load())
	assert.Equal(t, "", db.Vendor(0x0781))
}

func TestLoad_SearchOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	require.NoError(t, os.WriteFile(path, []byte(sampleIDs), 0o644))

	db := NewWithPaths([]string{filepath.Join(dir, "missing"), path})
	require.True(t, db.Load())
	assert.Equal(t, "Ultra", db.Product(0x0781, 0x5581))

	// Loading again does not reparse.
	require.NoError(t, os.Remove(path))
	assert.True(t, db.Load())
	assert.Equal(t, 2, db.VendorCount())
}
