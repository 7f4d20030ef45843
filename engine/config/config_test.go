package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/core"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(3), cfg.Frames.MaxFramesInFlight)
	assert.True(t, cfg.Dedup.Materials)
	assert.NotContains(t, cfg.Hashing.AssetRule, ComponentPositions)
	assert.Contains(t, cfg.Hashing.GenerationRule, ComponentPositions)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[frames]
max_frames_in_flight = 2

[classifier]
rebuild_vertex_delta = 1.5

[hashing]
asset_rule = ["Indices", "layout"]

[dedup]
samplers = false

[log]
level = "debug"
`))
	require.NoError(t, err)

	assert.Equal(t, uint32(2), cfg.Frames.MaxFramesInFlight)
	assert.Equal(t, float32(1), cfg.Classifier.RebuildVertexDelta)
	assert.Equal(t, []string{ComponentIndices, ComponentLayout}, cfg.Hashing.AssetRule)
	assert.False(t, cfg.Dedup.Samplers)
	assert.True(t, cfg.Dedup.Materials)
	assert.Equal(t, 4, cfg.Hashing.Workers)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero frames in flight", "[frames]\nmax_frames_in_flight = 0\n"},
		{"unknown component", "[hashing]\nasset_rule = [\"bones\"]\n"},
		{"empty rule", "[hashing]\ngeneration_rule = []\n"},
		{"bad log level", "[log]\nlevel = \"loud\"\n"},
		{"malformed toml", "[frames\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	data, err := cfg.Encode()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.toml")
	require.NoError(t, os.WriteFile(path, []byte("[frames]\nmax_frames_in_flight = 3\n"), 0o644))

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[frames]\nmax_frames_in_flight = 5\n"), 0o644))

	// a truncating write may surface an intermediate reload first
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Frames.MaxFramesInFlight == 5 {
				return
			}
		case <-timeout:
			t.Fatal("config was not reloaded")
		}
	}
}
