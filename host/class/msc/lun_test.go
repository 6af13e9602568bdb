package msc_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal/sim"
	"github.com/ardnew/usbstore/pkg"
)

func TestLogicalUnit_Start(t *testing.T) {
	ctx := context.Background()
	store := sim.NewMemoryStorage(4<<20, 512)
	store.SetRemovable(true)
	h := newHarness(t, store)

	u := msc.NewLogicalUnit(h.device, 0)
	require.NoError(t, u.Start(ctx))

	assert.True(t, u.Started())
	assert.True(t, u.Usable())
	assert.Equal(t, uint64(8192), u.BlockCount())
	assert.Equal(t, uint32(512), u.BlockLength())
	assert.Equal(t, uint64(4<<20), u.Capacity())
	assert.Equal(t, uint8(msc.DeviceTypeDisk), u.DeviceType())
	assert.False(t, u.WriteProtected())
	assert.True(t, u.Removable())
	assert.Equal(t, "ACME", u.Vendor())
	assert.Equal(t, "Test Disk", u.Product())
	assert.Equal(t, "1.00", u.Revision())
}

// Every supported block length round-trips a transfer larger than one
// command.
func TestLogicalUnit_BlockLengths(t *testing.T) {
	ctx := context.Background()

	for _, bl := range []uint32{512, 1024, 2048, 4096} {
		t.Run(fmt.Sprint(bl), func(t *testing.T) {
			store := sim.NewMemoryStorage(1<<20, bl)
			h := newHarness(t, store)

			u := msc.NewLogicalUnit(h.device, 0)
			require.NoError(t, u.Start(ctx))
			require.Equal(t, bl, u.BlockLength())

			count := uint32(msc.MaxTransferSize/bl) + 3
			data := pattern(int(count*bl), byte(bl>>8))
			require.NoError(t, u.WriteBlocks(ctx, 1, count, data))

			got := make([]byte, len(data))
			require.NoError(t, u.ReadBlocks(ctx, 1, count, got))
			assert.Equal(t, data, got)
			assert.Equal(t, data, store.Bytes()[bl:bl+uint32(len(data))])
		})
	}
}

func TestLogicalUnit_StartNotReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
	h.disk.SetNotReady(0, 5)

	u := msc.NewLogicalUnit(h.device, 0)
	require.NoError(t, u.Start(ctx))
	assert.True(t, u.Started())
}

func TestLogicalUnit_StartFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no medium", func(t *testing.T) {
		store := sim.NewMemoryStorage(1<<20, 512)
		store.SetPresent(false)
		h := newHarness(t, store)

		u := msc.NewLogicalUnit(h.device, 0)
		require.ErrorIs(t, u.Start(ctx), pkg.ErrMediumNotPresent)
		assert.False(t, u.Started())
	})

	t.Run("bad geometry", func(t *testing.T) {
		h := newHarness(t, sim.NewMemoryStorage(1<<20, 520))

		u := msc.NewLogicalUnit(h.device, 0)
		require.ErrorIs(t, u.Start(ctx), pkg.ErrInvalidUnit)
	})

	t.Run("empty medium", func(t *testing.T) {
		h := newHarness(t, sim.NewMemoryStorage(0, 512))

		u := msc.NewLogicalUnit(h.device, 0)
		require.Error(t, u.Start(ctx))
		assert.False(t, u.Started())
	})
}

func TestLogicalUnit_WriteProtect(t *testing.T) {
	ctx := context.Background()

	for _, reject6 := range []bool{false, true} {
		t.Run(fmt.Sprintf("reject6=%v", reject6), func(t *testing.T) {
			store := sim.NewMemoryStorage(1<<20, 512)
			store.SetReadOnly(true)
			h := newHarness(t, store)
			h.disk.SetRejectModeSense6(0, reject6)

			u := msc.NewLogicalUnit(h.device, 0)
			require.NoError(t, u.Start(ctx))
			assert.True(t, u.WriteProtected())

			commands := h.disk.Commands()
			err := u.WriteBlocks(ctx, 0, 1, make([]byte, 512))
			require.ErrorIs(t, err, pkg.ErrWriteProtected)
			assert.Equal(t, commands, h.disk.Commands())
		})
	}
}

func TestLogicalUnit_RangeChecks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, sim.NewMemoryStorage(64*512, 512))

	u := msc.NewLogicalUnit(h.device, 0)
	require.ErrorIs(t, u.ReadBlocks(ctx, 0, 1, make([]byte, 512)), pkg.ErrNotReady)
	require.NoError(t, u.Start(ctx))

	tests := []struct {
		name  string
		lba   uint64
		count uint32
		buf   int
		want  error
	}{
		{"zero count", 0, 0, 0, pkg.ErrInvalidParameter},
		{"buffer mismatch", 0, 2, 512, pkg.ErrBufferTooSmall},
		{"past end", 64, 1, 512, pkg.ErrOutOfRange},
		{"straddles end", 63, 2, 1024, pkg.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := u.ReadBlocks(ctx, tt.lba, tt.count, make([]byte, tt.buf))
			require.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, u.ReadBlocks(ctx, 63, 1, make([]byte, 512)))
}

func TestLogicalUnit_Stop(t *testing.T) {
	ctx := context.Background()
	store := sim.NewMemoryStorage(1<<20, 512)
	store.SetRemovable(true)
	h := newHarness(t, store)

	u := msc.NewLogicalUnit(h.device, 0)
	require.NoError(t, u.Start(ctx))
	require.NoError(t, u.Stop(ctx, true))

	assert.False(t, u.Started())
	assert.True(t, h.disk.Stopped(0))
	assert.False(t, store.IsPresent())
	require.NoError(t, u.Stop(ctx, true))
}

func TestLogicalUnit_MultipleUnits(t *testing.T) {
	ctx := context.Background()
	a := sim.NewMemoryStorage(1<<20, 512)
	b := sim.NewMemoryStorage(2<<20, 4096)
	h := newHarness(t, a, b)

	maxLUN, err := h.transport.GetMaxLUN(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(1), maxLUN)

	units := []*msc.LogicalUnit{msc.NewLogicalUnit(h.device, 0), msc.NewLogicalUnit(h.device, 1)}
	for _, u := range units {
		require.NoError(t, u.Start(ctx))
	}
	assert.Equal(t, uint32(512), units[0].BlockLength())
	assert.Equal(t, uint32(4096), units[1].BlockLength())

	require.NoError(t, units[1].WriteBlocks(ctx, 0, 1, pattern(4096, 1)))
	assert.Equal(t, make([]byte, 4096), a.Bytes()[:4096])
	assert.Equal(t, pattern(4096, 1), b.Bytes()[:4096])
}

func TestValidGeometry(t *testing.T) {
	tests := []struct {
		count  uint64
		length uint32
		want   bool
	}{
		{1, 512, true},
		{1 << 40, 4096, true},
		{0, 512, false},
		{1, 256, false},
		{1, 8192, false},
		{1, 520, false},
		{1, 1536, false},
	}
	for _, tt := range tests {
		if got := msc.ValidGeometry(tt.count, tt.length); got != tt.want {
			t.Errorf("ValidGeometry(%d, %d) = %v, want %v", tt.count, tt.length, got, tt.want)
		}
	}
}
