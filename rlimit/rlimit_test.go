//go:build linux

package rlimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name     string
		resource int
		hard     bool
	}{
		{"cpu.high", unix.RLIMIT_CPU, false},
		{"cpu.max", unix.RLIMIT_CPU, true},
		{"fsize.max", unix.RLIMIT_FSIZE, true},
		{"data.high", unix.RLIMIT_DATA, false},
		{"stack.max", unix.RLIMIT_STACK, true},
		{"core.high", unix.RLIMIT_CORE, false},
		{"rss.max", unix.RLIMIT_RSS, true},
		{"nproc.max", unix.RLIMIT_NPROC, true},
		{"nofile.max", unix.RLIMIT_NOFILE, true},
		{"memlock.high", unix.RLIMIT_MEMLOCK, false},
		{"as.max", unix.RLIMIT_AS, true},
		{"locks.high", unix.RLIMIT_LOCKS, false},
		{"sigpending.max", unix.RLIMIT_SIGPENDING, true},
		{"msgqueue.max", unix.RLIMIT_MSGQUEUE, true},
		{"nice.high", unix.RLIMIT_NICE, false},
		{"rtprio.max", unix.RLIMIT_RTPRIO, true},
		{"rttime.high", unix.RLIMIT_RTTIME, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resource, hard, err := ParseName(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.resource, resource)
			assert.Equal(t, tt.hard, hard)
		})
	}
}

func TestParseNameErrors(t *testing.T) {
	for _, name := range []string{
		"",
		"cpu",
		"cpu.low",
		"cpu.HIGH",
		"files.max",
		".max",
		"nofile.",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseName(name)
			assert.Error(t, err)
		})
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name  string
		old   unix.Rlimit
		hard  bool
		value uint64
		want  unix.Rlimit
	}{
		{
			name:  "high leaves hard untouched",
			old:   unix.Rlimit{Cur: 1024, Max: 4096},
			hard:  false,
			value: 16,
			want:  unix.Rlimit{Cur: 16, Max: 4096},
		},
		{
			name:  "max above soft leaves soft untouched",
			old:   unix.Rlimit{Cur: 1024, Max: 4096},
			hard:  true,
			value: 2048,
			want:  unix.Rlimit{Cur: 1024, Max: 2048},
		},
		{
			name:  "max below soft clamps soft down",
			old:   unix.Rlimit{Cur: 1024, Max: 4096},
			hard:  true,
			value: 16,
			want:  unix.Rlimit{Cur: 16, Max: 16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, merge(tt.old, tt.hard, tt.value))
		})
	}
}

func TestApplyPreservesUntouchedHalf(t *testing.T) {
	var before unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_CORE, &before))

	// Re-applying the current soft limit must not move the hard limit.
	err := Apply([]Limit{{Name: "core.high", Value: before.Cur}})
	require.NoError(t, err)

	var after unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_CORE, &after))
	assert.Equal(t, before, after)
}

func TestApplyUnknownResource(t *testing.T) {
	err := Apply([]Limit{{Name: "bogus.max", Value: 1}})
	assert.Error(t, err)
}
