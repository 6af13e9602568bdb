package sim

// Fault is a one-shot misbehavior a Disk performs on a later transfer.
type Fault uint8

// Injectable faults.
const (
	// FaultNone does nothing.
	FaultNone Fault = iota

	// FaultStallCommand stalls the bulk OUT pipe instead of accepting the
	// next CBW.
	FaultStallCommand

	// FaultStallStatus stalls the bulk IN pipe once when the next CSW is
	// read; the CSW is delivered after the halt is cleared.
	FaultStallStatus

	// FaultTimeout makes the next CSW read hang until its context expires
	// and abandons the command.
	FaultTimeout

	// FaultBadSignature corrupts the signature of the next CSW.
	FaultBadSignature

	// FaultBadTag answers the next command with a CSW carrying the wrong tag.
	FaultBadTag

	// FaultShortData delivers half of the next IN data stage and reports the
	// rest as residue.
	FaultShortData

	// FaultPhaseError answers the next command with CSW status 2.
	FaultPhaseError
)

// String returns the fault name.
func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultStallCommand:
		return "stall-command"
	case FaultStallStatus:
		return "stall-status"
	case FaultTimeout:
		return "timeout"
	case FaultBadSignature:
		return "bad-signature"
	case FaultBadTag:
		return "bad-tag"
	case FaultShortData:
		return "short-data"
	case FaultPhaseError:
		return "phase-error"
	default:
		return "unknown"
	}
}

// ParseFault converts a fault name to a Fault.
func ParseFault(s string) (Fault, bool) {
	for f := FaultNone; f <= FaultPhaseError; f++ {
		if f.String() == s {
			return f, true
		}
	}
	return FaultNone, false
}
