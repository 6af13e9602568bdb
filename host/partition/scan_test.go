package partition

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/pkg"
)

func TestScan_SuperFloppy(t *testing.T) {
	for _, build := range []func([]byte){fat16VBR, fat32VBR, exfatVBR, ntfsVBR} {
		d := newMemDisk(128, 512)
		build(d.block(0))

		vols, err := Scan(context.Background(), d, DefaultOptions())
		require.NoError(t, err)
		require.Len(t, vols, 1)
		assert.Equal(t, SchemeSuperFloppy, vols[0].Scheme)
		assert.Equal(t, uint64(0), vols[0].StartLBA)
		assert.Equal(t, uint64(128), vols[0].BlockCount)
		assert.NotEqual(t, FSUnsupported, vols[0].Type)
	}
}

func TestScan_NoBootSector(t *testing.T) {
	d := newMemDisk(128, 512)
	_, err := Scan(context.Background(), d, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoBootSector)

	// Signed but not an MBR-style boot record is still parsed as a table.
	d.block(0)[0] = 0x33
	sign(d.block(0))
	vols, err := Scan(context.Background(), d, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func TestScan_Geometry(t *testing.T) {
	_, err := Scan(context.Background(), newMemDisk(16, 256), DefaultOptions())
	assert.ErrorIs(t, err, pkg.ErrInvalidUnit)

	_, err = Scan(context.Background(), newMemDisk(0, 512), DefaultOptions())
	assert.ErrorIs(t, err, pkg.ErrInvalidUnit)
}

var testPartGUID = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

func gptDisk(blockLength uint32) *memDisk {
	d := newMemDisk(1024, blockLength)
	writeGPT(d,
		GPTEntry{TypeGUID: BasicDataGUID, PartitionGUID: testPartGUID, FirstLBA: 100, LastLBA: 199, Name: "DATA"},
		GPTEntry{TypeGUID: LinuxDataGUID, PartitionGUID: uuid.New(), FirstLBA: 300, LastLBA: 399, Name: "root"},
		GPTEntry{TypeGUID: uuid.MustParse("21686148-6449-6E6F-744E-656564454649"), FirstLBA: 400, LastLBA: 401},
		GPTEntry{TypeGUID: BasicDataGUID, FirstLBA: 500, LastLBA: 599, Name: "blank"},
		GPTEntry{TypeGUID: BasicDataGUID, FirstLBA: 700, LastLBA: 5000, Name: "too long"},
	)
	exfatVBR(d.block(100))
	return d
}

func TestScan_GPT(t *testing.T) {
	for _, bl := range []uint32{512, 4096} {
		d := gptDisk(bl)

		vols, err := Scan(context.Background(), d, DefaultOptions())
		require.NoError(t, err)
		require.Len(t, vols, 2, "block length %d", bl)

		assert.Equal(t, Volume{
			Scheme:        SchemeGPT,
			Index:         1,
			StartLBA:      100,
			BlockCount:    100,
			Type:          FSFAT,
			TypeGUID:      BasicDataGUID,
			PartitionGUID: testPartGUID,
			Name:          "DATA",
		}, vols[0])
		assert.Equal(t, 2, vols[1].Index)
		assert.Equal(t, FSEXT, vols[1].Type)
		assert.Equal(t, "root", vols[1].Name)
	}
}

func TestScan_GPTBackup(t *testing.T) {
	d := gptDisk(512)
	d.block(1)[0] = 'X'

	vols, err := Scan(context.Background(), d, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, vols, 2)

	d.block(d.BlockCount() - 1)[0] = 'X'
	vols, err = Scan(context.Background(), d, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, vols)
}

// A partition array checksum mismatch is reported but the entries are
// still used.
func TestScan_GPTArrayChecksum(t *testing.T) {
	d := gptDisk(512)
	d.block(2)[3*GPTEntrySize+48] ^= 0xFF

	vols, err := Scan(context.Background(), d, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, vols, 2)
}

func TestScan_GPTEntryLimit(t *testing.T) {
	d := gptDisk(512)
	vols, err := Scan(context.Background(), d, Options{MaxGPTEntries: 1})
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, "DATA", vols[0].Name)
}

func TestScan_ReadErrors(t *testing.T) {
	build := func() *memDisk {
		d := newMemDisk(1024, 512)
		writeMBR(d.block(0),
			PartitionEntry{Type: TypeFAT32LBA, StartLBA: 100, Sectors: 100},
			PartitionEntry{Type: TypeFAT32LBA, StartLBA: 300, Sectors: 100},
		)
		fat32VBR(d.block(100))
		fat32VBR(d.block(300))
		return d
	}

	t.Run("recoverable", func(t *testing.T) {
		d := build()
		d.fail[100] = errors.New("medium error")
		vols, err := Scan(context.Background(), d, DefaultOptions())
		require.NoError(t, err)
		require.Len(t, vols, 1)
		assert.Equal(t, uint64(300), vols[0].StartLBA)
	})

	for _, fatalErr := range []error{pkg.ErrUnusable, pkg.ErrNoDevice, context.DeadlineExceeded} {
		t.Run(fatalErr.Error(), func(t *testing.T) {
			d := build()
			d.fail[100] = fatalErr
			_, err := Scan(context.Background(), d, DefaultOptions())
			assert.ErrorIs(t, err, fatalErr)
			assert.Equal(t, 2, d.reads, "scan stops at the fatal read")
		})
	}

	t.Run("boot sector", func(t *testing.T) {
		d := build()
		d.fail[0] = pkg.ErrMediumError
		_, err := Scan(context.Background(), d, DefaultOptions())
		assert.ErrorIs(t, err, pkg.ErrMediumError)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Scan(ctx, build(), DefaultOptions())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestScan_GPTReadErrors(t *testing.T) {
	d := gptDisk(512)
	d.fail[1] = errors.New("medium error")
	vols, err := Scan(context.Background(), d, DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, vols, 2, "backup header used")

	d = gptDisk(512)
	d.fail[2] = pkg.ErrUnusable
	_, err = Scan(context.Background(), d, DefaultOptions())
	assert.ErrorIs(t, err, pkg.ErrUnusable)
}
