package quota

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func defaultLimits() Limits {
	return Limits{
		Memory:   50_000_000,
		WallTime: 5 * time.Second,
		FileSize: 50_000_000,
		Blocks:   100,
		Inodes:   100,
	}
}

func ptr[T any](v T) *T { return &v }

func TestResolveEmptyKeepsDefaults(t *testing.T) {
	assert.Equal(t, defaultLimits(), Resolve(Partial{}, defaultLimits()))
}

func TestResolveRandomOverrides(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	defaults := defaultLimits()

	for i := 0; i < 500; i++ {
		var p Partial
		if rng.Intn(2) == 0 {
			p.Memory = ptr(uint64(rng.Int63n(1 << 32)))
		}
		if rng.Intn(2) == 0 {
			p.WallTime = ptr(time.Duration(rng.Int63n(int64(time.Minute))))
		}
		if rng.Intn(2) == 0 {
			p.CPUTime = ptr(time.Duration(rng.Int63n(int64(time.Minute))))
		}
		if rng.Intn(2) == 0 {
			p.FileSize = ptr(uint64(rng.Int63n(1 << 32)))
		}
		if rng.Intn(2) == 0 {
			p.Blocks = ptr(rng.Intn(10000))
		}
		if rng.Intn(2) == 0 {
			p.Inodes = ptr(rng.Intn(10000))
		}
		if rng.Intn(2) == 0 {
			p.Stack = ptr(uint64(rng.Int63n(1 << 28)))
		}
		if rng.Intn(2) == 0 {
			p.Processes = ptr(rng.Intn(64))
		}
		if rng.Intn(2) == 0 {
			p.ShareNet = ptr(rng.Intn(2) == 0)
		}

		got := Resolve(p, defaults)

		expectField(t, p.Memory, defaults.Memory, got.Memory)
		expectField(t, p.WallTime, defaults.WallTime, got.WallTime)
		expectField(t, p.CPUTime, defaults.CPUTime, got.CPUTime)
		expectField(t, p.FileSize, defaults.FileSize, got.FileSize)
		expectField(t, p.Blocks, defaults.Blocks, got.Blocks)
		expectField(t, p.Inodes, defaults.Inodes, got.Inodes)
		expectField(t, p.Stack, defaults.Stack, got.Stack)
		expectField(t, p.ShareNet, defaults.ShareNet, got.ShareNet)
		if p.Processes != nil {
			require.NotNil(t, got.Processes)
			assert.Equal(t, *p.Processes, *got.Processes)
		} else {
			assert.Nil(t, got.Processes)
		}
	}
}

func expectField[T comparable](t *testing.T, override *T, def, got T) {
	t.Helper()
	if override != nil {
		assert.Equal(t, *override, got)
		return
	}
	assert.Equal(t, def, got)
}

func TestResolveDoesNotAliasProcesses(t *testing.T) {
	n := 4
	got := Resolve(Partial{Processes: &n}, defaultLimits())
	n = 9
	require.NotNil(t, got.Processes)
	assert.Equal(t, 4, *got.Processes)
}

func TestOverridesParse(t *testing.T) {
	t.Run("AllFields", func(t *testing.T) {
		o := Overrides{
			Memory:    ptr(Scalar("128M")),
			WallTime:  ptr(Scalar("10s")),
			CPUTime:   ptr(Scalar("2")),
			FileSize:  ptr(Scalar("1M")),
			Blocks:    ptr(Count(200)),
			Inodes:    ptr(Count(300)),
			Stack:     ptr(Scalar("8 MiB")),
			Processes: ptr(Count(16)),
			Net:       ptr(Scalar("share")),
		}
		p, err := o.Parse()
		require.NoError(t, err)

		assert.Equal(t, uint64(128_000_000), *p.Memory)
		assert.Equal(t, 10*time.Second, *p.WallTime)
		assert.Equal(t, 2*time.Second, *p.CPUTime)
		assert.Equal(t, uint64(1_000_000), *p.FileSize)
		assert.Equal(t, 200, *p.Blocks)
		assert.Equal(t, 300, *p.Inodes)
		assert.Equal(t, uint64(8<<20), *p.Stack)
		assert.Equal(t, 16, *p.Processes)
		assert.True(t, *p.ShareNet)
	})

	t.Run("UnsetStaysNil", func(t *testing.T) {
		p, err := Overrides{Memory: ptr(Scalar("1M"))}.Parse()
		require.NoError(t, err)
		assert.NotNil(t, p.Memory)
		assert.Nil(t, p.WallTime)
		assert.Nil(t, p.CPUTime)
		assert.Nil(t, p.Blocks)
		assert.Nil(t, p.ShareNet)
	})

	t.Run("NetOtherThanShare", func(t *testing.T) {
		p, err := Overrides{Net: ptr(Scalar("none"))}.Parse()
		require.NoError(t, err)
		require.NotNil(t, p.ShareNet)
		assert.False(t, *p.ShareNet)
	})

	t.Run("InvalidSize", func(t *testing.T) {
		_, err := Overrides{Memory: ptr(Scalar("a lot"))}.Parse()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limits.mem")
	})

	t.Run("InvalidTimespan", func(t *testing.T) {
		_, err := Overrides{CPUTime: ptr(Scalar("soon"))}.Parse()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limits.cpu_time")
	})
}

func TestParseTimespan(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Duration
		hasError bool
	}{
		{"5s", 5 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"250ms", 250 * time.Millisecond, false},
		{"-1s", 0, true},
		{"later", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseTimespan(tt.in)
			if tt.hasError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestOverridesDecoding(t *testing.T) {
	want := Partial{
		Memory:   ptr(uint64(100_000_000)),
		WallTime: ptr(10 * time.Second),
		Blocks:   ptr(100),
		Inodes:   ptr(50),
	}

	t.Run("YAML", func(t *testing.T) {
		var o Overrides
		require.NoError(t, yaml.Unmarshal([]byte("mem: 100M\ntotal_time: 10\nblocks: \"100\"\ninodes: 50\n"), &o))

		p, err := o.Parse()
		require.NoError(t, err)
		assert.Equal(t, want, p)
	})

	t.Run("JSON", func(t *testing.T) {
		var o Overrides
		require.NoError(t, json.Unmarshal([]byte(`{"mem": "100M", "total_time": 10, "blocks": "100", "inodes": 50}`), &o))

		p, err := o.Parse()
		require.NoError(t, err)
		assert.Equal(t, want, p)
	})

	t.Run("NullIsUnset", func(t *testing.T) {
		var o Overrides
		require.NoError(t, json.Unmarshal([]byte(`{"mem": null, "blocks": null}`), &o))
		assert.Nil(t, o.Memory)
		assert.Nil(t, o.Blocks)
	})

	t.Run("RejectsNonNumericCount", func(t *testing.T) {
		var o Overrides
		assert.Error(t, json.Unmarshal([]byte(`{"blocks": "many"}`), &o))
		assert.Error(t, yaml.Unmarshal([]byte("processes: lots\n"), &o))
	})

	t.Run("RejectsNestedValues", func(t *testing.T) {
		var o Overrides
		assert.Error(t, json.Unmarshal([]byte(`{"mem": [1]}`), &o))
		assert.Error(t, yaml.Unmarshal([]byte("mem:\n  a: 1\n"), &o))
	})
}
