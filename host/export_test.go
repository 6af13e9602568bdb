package host

// SetVolumeTableSize replaces m's volume table with one holding n volumes.
// It must be called before Initialize.
func SetVolumeTableSize(m *Manager, n int) {
	m.volumes = newRegistry[VolumeContext](n)
}
