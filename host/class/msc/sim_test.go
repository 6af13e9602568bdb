package msc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/host/hal/sim"
)

const testTimeout = 200 * time.Millisecond

// harness is a claimed simulated disk and the transport running on it.
type harness struct {
	bus       *sim.Bus
	disk      *sim.Disk
	id        hal.InterfaceID
	transport *msc.Transport
	device    *msc.Device
}

func newHarness(t *testing.T, storages ...sim.Storage) *harness {
	t.Helper()

	bus := sim.New()
	require.NoError(t, bus.Init(context.Background()))
	t.Cleanup(func() { _ = bus.Close() })

	disk := sim.NewDisk(sim.DiskConfig{
		VendorID:  0x0781,
		ProductID: 0x5567,
		Vendor:    "ACME",
		Model:     "Test Disk",
		Revision:  "1.00",
	}, storages...)
	id := bus.Attach(disk)
	require.NoError(t, bus.Claim(id))

	info := disk.Info()
	tr := msc.NewTransport(bus, &info)
	tr.SetTimeout(testTimeout)

	return &harness{
		bus:       bus,
		disk:      disk,
		id:        id,
		transport: tr,
		device:    msc.NewDevice(tr),
	}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i) ^ seed
	}
	return b
}
