//go:build !linux

package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// newSystemHAL reports that no host HAL exists for this platform.
func newSystemHAL(time.Duration) (hal.HostHAL, error) {
	return nil, fmt.Errorf("%s: %w: use the image command", runtime.GOOS, pkg.ErrNotSupported)
}
