package host_test

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbstore/host"
	"github.com/ardnew/usbstore/host/backend/bootrecord"
	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/host/hal/sim"
	"github.com/ardnew/usbstore/host/partition"
)

const (
	testTimeout = 200 * time.Millisecond
	blockSize   = 512
)

// fat32Boot writes a FAT32 boot record for a volume of the given size.
func fat32Boot(b []byte, sectors uint32, serial uint32) {
	le := binary.LittleEndian
	copy(b, []byte{0xEB, 0x58, 0x90})
	copy(b[3:], "MSWIN4.1")
	le.PutUint16(b[0x0B:], blockSize)
	b[0x0D] = 8
	le.PutUint16(b[0x0E:], 32)
	b[0x10] = 2
	le.PutUint32(b[0x20:], sectors)
	le.PutUint32(b[0x24:], 8)
	b[0x42] = 0x29
	le.PutUint32(b[0x43:], serial)
	copy(b[0x47:], "USBSTORE   ")
	copy(b[0x52:], "FAT32   ")
	le.PutUint16(b[0x1FE:], partition.BootSignature)
}

// superfloppy returns an unpartitioned FAT32 image.
func superfloppy(blocks int) []byte {
	img := make([]byte, blocks*blockSize)
	fat32Boot(img, uint32(blocks), 0x11112222)
	return img
}

// partitioned returns an MBR image holding parts. FAT entries get a boot
// record at their start.
func partitioned(blocks int, parts ...partition.PartitionEntry) []byte {
	img := make([]byte, blocks*blockSize)
	var mbr partition.MBR
	copy(mbr.Entries[:], parts)
	mbr.MarshalTo(img)
	for i, p := range parts {
		if partition.IsFATType(p.Type) {
			fat32Boot(img[int(p.StartLBA)*blockSize:], p.Sectors, uint32(i+1))
		}
	}
	return img
}

func testDisk(images ...[]byte) *sim.Disk {
	storages := make([]sim.Storage, len(images))
	for i, img := range images {
		storages[i] = sim.NewMemoryStorageFrom(img, blockSize)
	}
	return sim.NewDisk(sim.DiskConfig{
		VendorID:     0x0781,
		ProductID:    0x5567,
		Manufacturer: "ACME Corp",
		Product:      "Cruzer",
		Serial:       "4C530001",
		Vendor:       "ACME",
		Model:        "Test Disk",
		Revision:     "1.00",
	}, storages...)
}

// fakeBackend records mounts and can be told to fail them.
type fakeBackend struct {
	fs   partition.FSType
	fail error

	mutex  sync.Mutex
	mounts []*fakeMount
}

type fakeMount struct {
	dev       host.BlockDevice
	flags     host.MountFlags
	unmounted atomic.Bool
}

func (b *fakeBackend) Type() partition.FSType { return b.fs }

func (b *fakeBackend) Mount(dev host.BlockDevice, flags host.MountFlags) (host.Mount, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	block := make([]byte, dev.BlockLength())
	if err := dev.ReadBlocks(context.Background(), 0, 1, block); err != nil {
		return nil, err
	}
	m := &fakeMount{dev: dev, flags: flags}
	b.mutex.Lock()
	b.mounts = append(b.mounts, m)
	b.mutex.Unlock()
	return m, nil
}

func (m *fakeMount) Unmount() error {
	m.unmounted.Store(true)
	return nil
}

func (b *fakeBackend) all() []*fakeMount {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]*fakeMount(nil), b.mounts...)
}

// recordingTable is a DeviceTable that remembers its entries.
type recordingTable struct {
	mutex   sync.Mutex
	entries map[string]host.VolumeHandle
	removed []string
}

func (r *recordingTable) Add(name string, h host.VolumeHandle) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.entries == nil {
		r.entries = make(map[string]host.VolumeHandle)
	}
	r.entries[name] = h
	return nil
}

func (r *recordingTable) Remove(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, name)
	r.removed = append(r.removed, name)
	return nil
}

func (r *recordingTable) names() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []string
	for n := range r.entries {
		out = append(out, n)
	}
	return out
}

type testEnv struct {
	bus     *sim.Bus
	manager *host.Manager
}

// newEnv returns a manager over an empty simulated bus. opts.Timeout is
// shortened and, without explicit backends, bootrecord backends are used.
func newEnv(t *testing.T, opts host.Options) *testEnv {
	t.Helper()
	opts.Timeout = testTimeout
	if opts.Backends == nil {
		opts.Backends = bootrecord.All()
	}
	bus := sim.New()
	m := host.New(bus, opts)
	t.Cleanup(func() { _ = m.Shutdown() })
	return &testEnv{bus: bus, manager: m}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.manager.Initialize(context.Background()))
}

func (e *testEnv) attach(t *testing.T, d *sim.Disk) hal.InterfaceID {
	t.Helper()
	id := e.bus.Attach(d)
	require.NoError(t, e.manager.Rescan(context.Background()))
	return id
}

func (e *testEnv) detach(t *testing.T, id hal.InterfaceID) {
	t.Helper()
	require.True(t, e.bus.Detach(id))
	require.NoError(t, e.manager.Rescan(context.Background()))
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
