// Package bootrecord is a minimal host.Backend for FAT12/16/32, exFAT and
// NTFS volumes.
//
// Mounting decodes the volume boot record and reports its kind, label,
// serial number and geometry. The volume is never written. It serves as a
// reference backend and lets tools list volumes without a full filesystem
// implementation.
//
//	m := host.New(bus, host.Options{Backends: bootrecord.All()})
package bootrecord
