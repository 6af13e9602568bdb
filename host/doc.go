// Package host manages USB mass-storage drives and the volumes mounted from
// them.
//
// A [Manager] sits on a [hal.HostHAL]. It claims every Bulk-Only SCSI
// interface on the bus, starts its logical units, scans each unit for
// partitions with the partition package and mounts every volume whose
// filesystem family has a registered [Backend]. Hot-plug notifications from
// the HAL drive the same work: arrivals are enumerated, removals tear down
// the drive and its volumes.
//
// All lifecycle work runs on one worker goroutine, so enumeration, removal
// and shutdown never overlap. Callers reach volumes through generation
// checked [VolumeHandle] values:
//
//	m := host.New(linux.NewHostHAL(), host.DefaultOptions())
//	if err := m.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer m.Shutdown()
//
//	for _, v := range m.ListMountedVolumes(8) {
//	    err := m.WithVolume(v.Handle, func(vc *host.VolumeContext) error {
//	        return vc.Device().ReadBlocks(ctx, 0, 1, buf)
//	    })
//	}
//
// The callback runs with the drive locked; a handle whose drive was removed
// fails with [pkg.ErrStaleHandle] instead of reaching freed state.
//
// Volumes are also named "ums0", "ums1", ... and can be addressed by path
// ("ums0:/dir/file") through [Manager.WithPath].
package host
