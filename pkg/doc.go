// Package pkg provides shared utilities for the usbstore mass-storage stack.
//
// This package contains common functionality used by the transport, SCSI,
// partition and lifecycle layers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for transport, SCSI and registry failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentLUN, "unit ready", "lun", 0, "blocks", n)
//
// # Errors
//
// Failures are reported as sentinel values, possibly wrapped:
//
//	if errors.Is(err, pkg.ErrMediumNotPresent) {
//	    // wait for media
//	}
package pkg
