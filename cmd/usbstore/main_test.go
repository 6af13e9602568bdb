package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/partition"
)

// writeImage writes an unpartitioned FAT32 image of the given size in blocks.
func writeImage(t *testing.T, blocks uint32) string {
	t.Helper()
	img := make([]byte, int(blocks)*512)

	le := binary.LittleEndian
	copy(img, []byte{0xEB, 0x58, 0x90})
	copy(img[3:], "MSWIN4.1")
	le.PutUint16(img[0x0B:], 512)
	img[0x0D] = 8
	le.PutUint16(img[0x0E:], 32)
	img[0x10] = 2
	le.PutUint32(img[0x20:], blocks)
	le.PutUint32(img[0x24:], 8)
	img[0x42] = 0x29
	copy(img[0x47:], "CLITEST    ")
	copy(img[0x52:], "FAT32   ")
	le.PutUint16(img[0x1FE:], partition.BootSignature)

	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, img, 0o644))
	return path
}

// run executes the root command with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestImageCommand(t *testing.T) {
	a := writeImage(t, 2048)
	b := writeImage(t, 4096)

	out, err := run(t, "image", "--log-level", "error", a, a+"+"+b)
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "ums0")
	assert.Contains(t, out, "ums1")
	assert.Contains(t, out, "ums2")
	assert.Contains(t, out, "FAT")
	assert.Contains(t, out, "1.0 MiB")
	assert.Contains(t, out, "2.0 MiB")
	assert.Contains(t, out, "Image Drive 1")
	assert.Contains(t, out, "read-only (write-protected)")
}

func TestImageCommand_Max(t *testing.T) {
	a := writeImage(t, 2048)

	out, err := run(t, "image", "--max", "1", a, a, a)
	require.NoError(t, err)
	assert.Contains(t, out, "ums0")
	assert.NotContains(t, out, "ums1")
}

func TestImageCommand_Fault(t *testing.T) {
	a := writeImage(t, 2048)

	out, err := run(t, "image", "--timeout", "200ms", "--fault", "stall-status", "--fault-count", "2", a)
	require.NoError(t, err)
	assert.Contains(t, out, "ums0")
}

func TestImageCommand_Errors(t *testing.T) {
	a := writeImage(t, 2048)

	tests := []struct {
		name string
		args []string
	}{
		{"no images", []string{"image"}},
		{"missing image", []string{"image", filepath.Join(t.TempDir(), "missing.img")}},
		{"unknown fault", []string{"image", "--fault", "gremlins", a}},
		{"bad block size", []string{"image", "--block-size", "100", a}},
		{"bad mount flag", []string{"image", "--mount-flags", "sticky", a}},
		{"bad max", []string{"image", "--max", "0", a}},
		{"bad log level", []string{"image", "--log-level", "loud", a}},
		{"bad log format", []string{"image", "--log-format", "xml", a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestWriteVolumes_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeVolumes(&out, nil))
	assert.Equal(t, "no volumes mounted\n", out.String())
}
