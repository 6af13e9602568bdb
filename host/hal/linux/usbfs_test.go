//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbstore/pkg"
)

func TestIoctlNumbers(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("values below are for 64-bit targets")
	}

	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"CONTROL", ioctlUsbdevfsControl, 0xC0185500},
		{"BULK", ioctlUsbdevfsBulk, 0xC0185502},
		{"CLAIMINTERFACE", ioctlUsbdevfsClaimInterface, 0x8004550F},
		{"RELEASEINTERFACE", ioctlUsbdevfsReleaseInterface, 0x80045510},
		{"IOCTL", ioctlUsbdevfsIoctl, 0xC0105512},
		{"RESET", ioctlUsbdevfsReset, 0x5514},
		{"CLEAR_HALT", ioctlUsbdevfsClearHalt, 0x80045515},
		{"DISCONNECT", ioctlUsbdevfsDisconnect, 0x5516},
		{"CONNECT", ioctlUsbdevfsConnect, 0x5517},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("USBDEVFS_%s = %#x, want %#x", tt.name, tt.got, tt.want)
		}
	}
}

func TestMapErrno(t *testing.T) {
	other := errors.New("other")
	tests := []struct {
		in   error
		want error
	}{
		{unix.ENODEV, pkg.ErrNoDevice},
		{unix.ESHUTDOWN, pkg.ErrNoDevice},
		{unix.EPIPE, pkg.ErrStall},
		{unix.ETIMEDOUT, pkg.ErrTimeout},
		{unix.EOVERFLOW, pkg.ErrOverrun},
		{unix.EPROTO, pkg.ErrProtocol},
		{unix.EILSEQ, pkg.ErrProtocol},
		{unix.ECONNRESET, pkg.ErrCancelled},
		{unix.EBUSY, pkg.ErrBusy},
		{fmt.Errorf("wrapped: %w", unix.EPIPE), pkg.ErrStall},
		{unix.EACCES, unix.EACCES},
		{other, other},
	}
	for _, tt := range tests {
		if got := mapErrno(tt.in); !errors.Is(got, tt.want) {
			t.Errorf("mapErrno(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestErrnoStatus(t *testing.T) {
	tests := []struct {
		errno unix.Errno
		want  pkg.TransferStatus
		ok    bool
	}{
		{unix.ENODEV, pkg.TransferStatusNoDevice, true},
		{unix.EPIPE, pkg.TransferStatusStall, true},
		{unix.ETIMEDOUT, pkg.TransferStatusTimeout, true},
		{unix.ECONNRESET, pkg.TransferStatusCancelled, true},
		{unix.EOVERFLOW, pkg.TransferStatusOverrun, true},
		{unix.EPROTO, pkg.TransferStatusError, true},
		{unix.EBUSY, pkg.TransferStatusSuccess, false},
		{unix.EACCES, pkg.TransferStatusSuccess, false},
	}
	for _, tt := range tests {
		got, ok := errnoStatus(tt.errno)
		if got != tt.want || ok != tt.ok {
			t.Errorf("errnoStatus(%v) = %v, %v, want %v, %v", tt.errno, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTimeoutMillis(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		deadline time.Time
		ok       bool
		def      time.Duration
		min, max uint32
	}{
		{"no deadline", time.Time{}, false, 2 * time.Second, 2000, 2000},
		{"deadline", now.Add(time.Hour), true, time.Second, 3_590_000, 3_600_000},
		{"expired", now.Add(-time.Second), true, time.Second, 1, 1},
		{"sub-millisecond default", time.Time{}, false, time.Microsecond, 1, 1},
	}
	for _, tt := range tests {
		got := timeoutMillis(tt.deadline, tt.ok, tt.def)
		if got < tt.min || got > tt.max {
			t.Errorf("%s: timeoutMillis = %d, want [%d, %d]", tt.name, got, tt.min, tt.max)
		}
	}
}

func TestTransferError(t *testing.T) {
	h := newHostHAL(t.TempDir(), t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.transferError(ctx, pkg.ErrTimeout); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("live context: got %v, want ErrTimeout", err)
	}
	cancel()
	if err := h.transferError(ctx, pkg.ErrTimeout); !errors.Is(err, context.Canceled) {
		t.Errorf("done context: got %v, want context.Canceled", err)
	}
	if err := h.transferError(ctx, pkg.ErrCancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled transfer: got %v, want context.Canceled", err)
	}
	if err := h.transferError(ctx, pkg.ErrStall); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("stall: got %v, want ErrStall", err)
	}
}
