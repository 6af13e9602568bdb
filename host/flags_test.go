package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountFlags_String(t *testing.T) {
	tests := []struct {
		flags MountFlags
		want  string
	}{
		{0, "none"},
		{DefaultMountFlags, "show-hidden,show-system"},
		{FlagReadOnly | FlagIgnoreCase, "ignore-case,read-only"},
		{FlagIgnoreHibernation | 1<<20, "ignore-hibernation,0x100000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.flags.String())
	}
}

func TestParseMountFlags(t *testing.T) {
	tests := []struct {
		in   string
		want MountFlags
		ok   bool
	}{
		{"", 0, true},
		{"none", 0, true},
		{"ro", FlagReadOnly, true},
		{"read-only, ignore-case", FlagReadOnly | FlagIgnoreCase, true},
		{"SHOW-HIDDEN,show-system", DefaultMountFlags, true},
		{"replay-journal,ignore-hibernation", FlagReplayJournal | FlagIgnoreHibernation, true},
		{"rw", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseMountFlags(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	// String output parses back.
	all := FlagIgnoreCase | FlagShowHidden | FlagShowSystem | FlagReadOnly | FlagReplayJournal | FlagIgnoreHibernation
	got, err := ParseMountFlags(all.String())
	require.NoError(t, err)
	assert.Equal(t, all, got)
}

func TestMountFlags_Has(t *testing.T) {
	f := FlagReadOnly | FlagShowHidden
	assert.True(t, f.Has(FlagReadOnly))
	assert.True(t, f.Has(FlagReadOnly|FlagShowHidden))
	assert.False(t, f.Has(FlagReadOnly|FlagShowSystem))
}
