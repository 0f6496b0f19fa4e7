//go:build linux

package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHigh(t *testing.T) {
	tests := []struct {
		name string
		high int64
		max  int64
		want int64
	}{
		{"both set", 50000, 200000, 50000},
		{"high disabled takes max", -1, 200000, 200000},
		{"both disabled", -1, -1, -1},
		{"zero high kept", 0, 200000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeHigh(tt.high, tt.max))
		})
	}
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name      string
		cpuLimit  int64
		cpuNow    int64
		wallLimit int64
		wallNow   int64
		want      time.Duration
	}{
		{
			name:     "cpu only",
			cpuLimit: 200000, cpuNow: 50000,
			wallLimit: -1, wallNow: 123,
			want: 150 * time.Millisecond,
		},
		{
			name:     "wall only",
			cpuLimit: -1, cpuNow: 0,
			wallLimit: 100000, wallNow: 30000,
			want: 70 * time.Millisecond,
		},
		{
			name:     "minimum of both",
			cpuLimit: 200000, cpuNow: 0,
			wallLimit: 100000, wallNow: 50000,
			want: 50 * time.Millisecond,
		},
		{
			name:     "crossed threshold clamps to floor",
			cpuLimit: 100000, cpuNow: 150000,
			wallLimit: -1, wallNow: 0,
			want: minPollInterval,
		},
		{
			name:     "tiny remainder clamps to floor",
			cpuLimit: 100, cpuNow: 99,
			wallLimit: -1, wallNow: 0,
			want: minPollInterval,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextDelay(tt.cpuLimit, tt.cpuNow, tt.wallLimit, tt.wallNow))
		})
	}
}

func TestHighPhaseThresholds(t *testing.T) {
	// A hard-only configuration must not activate the soft phase: the
	// child gets SIGKILL at the hard threshold and no SIGXCPU at all.
	cfg := NewConfig()
	cfg.WallMaxUsecs = 100000
	active, _, _ := highPhaseThresholds(cfg)
	assert.False(t, active)

	cfg = NewConfig()
	cfg.CPUMaxUsecs = 200000
	active, _, _ = highPhaseThresholds(cfg)
	assert.False(t, active)

	// A soft threshold on one axis activates the phase, and the other
	// axis is bounded by its hard threshold.
	cfg = NewConfig()
	cfg.CPUHighUsecs = 50000
	cfg.WallMaxUsecs = 300000
	active, cpuHigh, wallHigh := highPhaseThresholds(cfg)
	assert.True(t, active)
	assert.Equal(t, int64(50000), cpuHigh)
	assert.Equal(t, int64(300000), wallHigh)

	cfg = NewConfig()
	cfg.WallHighUsecs = 50000
	active, cpuHigh, wallHigh = highPhaseThresholds(cfg)
	assert.True(t, active)
	assert.Equal(t, int64(-1), cpuHigh)
	assert.Equal(t, int64(50000), wallHigh)
}

func TestHasTimeLimits(t *testing.T) {
	cfg := NewConfig()
	assert.False(t, cfg.hasTimeLimits())

	cfg.WallMaxUsecs = 100000
	assert.True(t, cfg.hasTimeLimits())

	cfg = NewConfig()
	cfg.CPUHighUsecs = 0
	assert.True(t, cfg.hasTimeLimits())
}
