package pkg

import "errors"

// Transport errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates the device sent more data than requested.
	ErrOverrun = errors.New("data overrun")

	// ErrProtocol indicates a generic USB protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrPhase indicates a Bulk-Only phase error: the status wrapper was
	// missing, malformed, or did not belong to the command just issued.
	ErrPhase = errors.New("phase error")

	// ErrShortTransfer indicates fewer bytes moved than the command required.
	ErrShortTransfer = errors.New("short transfer")

	// ErrUnusable indicates a transport that failed recovery and must not be
	// used again.
	ErrUnusable = errors.New("transport unusable")

	// ErrNoDevice indicates the device is not present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")
)

// SCSI errors, classified from sense data.
var (
	// ErrCommandFailed indicates a command failed without a more specific
	// sense classification.
	ErrCommandFailed = errors.New("command failed")

	// ErrNotReady indicates the logical unit is not ready.
	ErrNotReady = errors.New("unit not ready")

	// ErrMediumNotPresent indicates no medium is loaded.
	ErrMediumNotPresent = errors.New("medium not present")

	// ErrUnitAttention indicates the unit reported a unit attention condition.
	ErrUnitAttention = errors.New("unit attention")

	// ErrIllegalRequest indicates the unit rejected the command or a field in it.
	ErrIllegalRequest = errors.New("illegal request")

	// ErrMediumError indicates an unrecoverable medium error.
	ErrMediumError = errors.New("medium error")

	// ErrDataProtect indicates the unit refused access to protected data.
	ErrDataProtect = errors.New("data protect")

	// ErrWriteProtected indicates a write to write-protected media.
	ErrWriteProtected = errors.New("write protected")

	// ErrInvalidUnit indicates capacity or block length outside supported bounds.
	ErrInvalidUnit = errors.New("unsupported logical unit geometry")

	// ErrOutOfRange indicates a block address past the end of the unit.
	ErrOutOfRange = errors.New("block address out of range")
)

// Registry and lifecycle errors.
var (
	// ErrAlreadyRunning indicates the manager is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the manager is not running.
	ErrNotRunning = errors.New("not running")

	// ErrStaleHandle indicates a handle whose volume or drive was removed.
	ErrStaleHandle = errors.New("stale handle")

	// ErrNotMounted indicates a name or path that names no mounted volume.
	ErrNotMounted = errors.New("volume not mounted")

	// ErrNoBackend indicates no filesystem backend is registered for a type.
	ErrNoBackend = errors.New("no filesystem backend")

	// ErrInvalidPath indicates a path that cannot be parsed.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrNoResources indicates a fixed-size table is full.
	ErrNoResources = errors.New("no resources available")
)

// TransferStatus represents the completion status of a USB transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with error
	TransferStatusStall                           // Endpoint stalled
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusOverrun                         // Data overrun
	TransferStatusNoDevice                        // Device disconnected
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusNoDevice:
		return "no-device"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusNoDevice:
		return ErrNoDevice
	default:
		return ErrProtocol
	}
}

// IsTransportFault reports whether err is a transport-level failure that a
// Bulk-Only recovery sequence can clear.
func IsTransportFault(err error) bool {
	return errors.Is(err, ErrStall) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrPhase) ||
		errors.Is(err, ErrOverrun) ||
		errors.Is(err, ErrProtocol)
}
