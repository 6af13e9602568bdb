//go:build linux

package main

import (
	"time"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/host/hal/linux"
)

// newSystemHAL returns the usbfs HAL.
func newSystemHAL(timeout time.Duration) (hal.HostHAL, error) {
	h := linux.NewHostHAL()
	h.SetTransferTimeout(timeout)
	return h, nil
}
