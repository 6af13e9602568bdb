package msc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host/class/msc"
	"github.com/ardnew/usbstore/host/hal/sim"
	"github.com/ardnew/usbstore/pkg"
)

func testUnitReady() *msc.Command {
	return &msc.Command{CDB: msc.TestUnitReadyCDB()}
}

func TestTransport_GetMaxLUN(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512), sim.NewMemoryStorage(1<<20, 512))
	n, err := h.transport.GetMaxLUN(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), n)

	h.disk.SetStallMaxLUN(true)
	n, err = h.transport.GetMaxLUN(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), n)
}

func TestTransport_Execute(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))

	res, err := h.transport.Execute(context.Background(), testUnitReady())
	require.NoError(t, err)
	assert.Equal(t, uint8(msc.CSWStatusGood), res.Status)
	assert.Equal(t, uint64(1), h.disk.Commands())
}

func TestTransport_DataIn(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))

	buf := make([]byte, msc.InquiryStandardSize)
	res, err := h.transport.Execute(context.Background(), &msc.Command{
		CDB:       msc.InquiryCDB(msc.InquiryStandardSize),
		Direction: msc.DirectionIn,
		Data:      buf,
	})
	require.NoError(t, err)
	assert.Equal(t, msc.InquiryStandardSize, res.Transferred)
	assert.Zero(t, res.Residue)

	var inq msc.InquiryResponse
	require.True(t, msc.ParseInquiry(buf, &inq))
	assert.Equal(t, "ACME", inq.Vendor())
}

// A single fault is absorbed by clearing both pipes and retrying.
func TestTransport_SingleFaultRetried(t *testing.T) {
	faults := []sim.Fault{
		sim.FaultStallCommand,
		sim.FaultTimeout,
		sim.FaultBadSignature,
		sim.FaultBadTag,
		sim.FaultPhaseError,
	}

	for _, f := range faults {
		t.Run(f.String(), func(t *testing.T) {
			h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
			h.disk.Inject(f, 1)

			res, err := h.transport.Execute(context.Background(), testUnitReady())
			require.NoError(t, err)
			assert.Equal(t, uint8(msc.CSWStatusGood), res.Status)
			assert.True(t, h.transport.Usable())
			assert.Zero(t, h.disk.ClassResets())
			assert.GreaterOrEqual(t, h.disk.ClearedHalts(), uint64(2))
		})
	}
}

// A stalled status read is cleared and read again without repeating the
// command.
func TestTransport_StatusStall(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
	h.disk.Inject(sim.FaultStallStatus, 1)

	_, err := h.transport.Execute(context.Background(), testUnitReady())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.disk.Commands())
	assert.Equal(t, uint64(1), h.disk.ClearedHalts())
}

func TestTransport_SecondFaultResets(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
	h.disk.Inject(sim.FaultBadTag, 2)

	_, err := h.transport.Execute(context.Background(), testUnitReady())
	require.ErrorIs(t, err, pkg.ErrPhase)
	assert.Equal(t, uint64(1), h.disk.ClassResets())
	assert.Zero(t, h.disk.BusResets())
	assert.True(t, h.transport.Usable())

	_, err = h.transport.Execute(context.Background(), testUnitReady())
	require.NoError(t, err)
}

func TestTransport_FailedRecoveryUnusable(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
	h.disk.Inject(sim.FaultBadSignature, 2)
	h.disk.SetFailResets(true)

	_, err := h.transport.Execute(context.Background(), testUnitReady())
	require.ErrorIs(t, err, pkg.ErrUnusable)
	assert.ErrorIs(t, err, pkg.ErrPhase)
	assert.False(t, h.transport.Usable())
	assert.Equal(t, uint64(1), h.disk.BusResets())

	commands := h.disk.Commands()
	_, err = h.transport.Execute(context.Background(), testUnitReady())
	require.ErrorIs(t, err, pkg.ErrUnusable)
	assert.Equal(t, commands, h.disk.Commands())
}

func TestTransport_Cancelled(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.transport.Execute(ctx, testUnitReady())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.transport.Usable())
	assert.Zero(t, h.disk.ClassResets())
}

func TestTransport_Detached(t *testing.T) {
	h := newHarness(t, sim.NewMemoryStorage(1<<20, 512))
	require.True(t, h.bus.Detach(h.id))

	_, err := h.transport.Execute(context.Background(), testUnitReady())
	require.ErrorIs(t, err, pkg.ErrNoDevice)
}
