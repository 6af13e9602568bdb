package msc_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal/sim"
	"github.com/ardnew/usbstore/pkg"
)

func TestDevice_ReadWrite(t *testing.T) {
	ctx := context.Background()
	store := sim.NewMemoryStorage(1<<20, 512)
	h := newHarness(t, store)

	data := pattern(8*512, 0x5A)
	require.NoError(t, h.device.Write(ctx, 0, 100, 8, data))
	assert.Equal(t, data, store.Bytes()[100*512:108*512])

	got := make([]byte, len(data))
	require.NoError(t, h.device.Read(ctx, 0, 100, 8, got))
	assert.Equal(t, data, got)
}

func TestDevice_Capacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 2048))

	cap10, err := h.device.ReadCapacity10(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(511), cap10.LastLBA)
	assert.Equal(t, uint32(2048), cap10.BlockLength)

	cap16, err := h.device.ReadCapacity16(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(511), cap16.LastLBA)
}

func TestDevice_SenseErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("out of range", func(t *testing.T) {
		h := newHarness(t, sim.NewMemoryStorage(64*512, 512))
		err := h.device.Read(ctx, 0, 64, 1, make([]byte, 512))
		require.ErrorIs(t, err, pkg.ErrOutOfRange)

		var serr *msc.SenseError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, uint8(msc.SCSIRead10), serr.Opcode)
		assert.Equal(t, uint8(msc.SenseIllegalRequest), serr.Sense.Key)
	})

	t.Run("write protected", func(t *testing.T) {
		store := sim.NewMemoryStorage(64*512, 512)
		store.SetReadOnly(true)
		h := newHarness(t, store)
		err := h.device.Write(ctx, 0, 0, 1, make([]byte, 512))
		require.ErrorIs(t, err, pkg.ErrWriteProtected)
	})

	t.Run("medium not present", func(t *testing.T) {
		store := sim.NewMemoryStorage(64*512, 512)
		store.SetPresent(false)
		h := newHarness(t, store)
		require.ErrorIs(t, h.device.TestUnitReady(ctx, 0), pkg.ErrMediumNotPresent)
	})

	t.Run("mode sense rejected", func(t *testing.T) {
		h := newHarness(t, sim.NewMemoryStorage(64*512, 512))
		_, err := h.device.ModeSense6(ctx, 0, msc.ModePageAllPages)
		require.NoError(t, err)
		h.disk.SetRejectModeSense6(0, true)
		_, err = h.device.ModeSense6(ctx, 0, msc.ModePageAllPages)
		require.ErrorIs(t, err, pkg.ErrIllegalRequest)
	})

	t.Run("invalid unit", func(t *testing.T) {
		h := newHarness(t, sim.NewMemoryStorage(64*512, 512))
		require.ErrorIs(t, h.device.TestUnitReady(ctx, 3), pkg.ErrIllegalRequest)
	})
}

func TestDevice_UnitAttentionRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sim.NewMemoryStorage(64*512, 512))
	h.disk.SetUnitAttention(0)

	require.NoError(t, h.device.TestUnitReady(ctx, 0))
	// TEST UNIT READY, REQUEST SENSE, TEST UNIT READY
	assert.Equal(t, uint64(3), h.disk.Commands())
}

func TestDevice_ShortTransfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sim.NewMemoryStorage(64*512, 512))
	h.disk.Inject(sim.FaultShortData, 1)

	err := h.device.Read(ctx, 0, 0, 4, make([]byte, 4*512))
	require.ErrorIs(t, err, pkg.ErrShortTransfer)
	assert.True(t, h.transport.Usable())
}

func TestDevice_StopEject(t *testing.T) {
	ctx := context.Background()
	store := sim.NewMemoryStorage(64*512, 512)
	store.SetRemovable(true)
	h := newHarness(t, store)

	require.NoError(t, h.device.SynchronizeCache(ctx, 0))
	require.NoError(t, h.device.PreventAllowMediumRemoval(ctx, 0, false))
	require.NoError(t, h.device.StartStopUnit(ctx, 0, false, true))
	assert.True(t, h.disk.Stopped(0))
	assert.False(t, store.IsPresent())
}
