package host

import (
	"fmt"
	"strings"
)

// MountFlags are the options passed to a backend when a volume is mounted.
// Not every backend honors every flag.
type MountFlags uint32

// Mount flags.
const (
	FlagIgnoreCase        MountFlags = 1 << iota // Case-insensitive name lookup
	FlagShowHidden                               // List hidden entries
	FlagShowSystem                               // List system entries
	FlagReadOnly                                 // Refuse every write
	FlagReplayJournal                            // Replay a dirty journal on mount
	FlagIgnoreHibernation                        // Mount hibernated NTFS volumes
)

// DefaultMountFlags are applied to mounts until changed with
// Manager.SetMountFlags.
const DefaultMountFlags = FlagShowHidden | FlagShowSystem

var flagNames = [...]struct {
	flag MountFlags
	name string
}{
	{FlagIgnoreCase, "ignore-case"},
	{FlagShowHidden, "show-hidden"},
	{FlagShowSystem, "show-system"},
	{FlagReadOnly, "read-only"},
	{FlagReplayJournal, "replay-journal"},
	{FlagIgnoreHibernation, "ignore-hibernation"},
}

// Has reports whether every flag in mask is set.
func (f MountFlags) Has(mask MountFlags) bool {
	return f&mask == mask
}

// String returns the comma-separated flag names, or "none".
func (f MountFlags) String() string {
	var names []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			names = append(names, n.name)
			f &^= n.flag
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(f)))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseMountFlags parses a comma-separated list of flag names as produced by
// String. "ro" is accepted for read-only; "none" and the empty string yield
// no flags.
func ParseMountFlags(s string) (MountFlags, error) {
	var f MountFlags
	for _, field := range strings.Split(s, ",") {
		field = strings.ToLower(strings.TrimSpace(field))
		switch field {
		case "", "none":
			continue
		case "ro":
			f |= FlagReadOnly
			continue
		}
		found := false
		for _, n := range flagNames {
			if n.name == field {
				f |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown mount flag %q", field)
		}
	}
	return f, nil
}
