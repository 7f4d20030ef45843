package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/math"
)

// Geometry components that can take part in a hash rule.
const (
	ComponentPositions = "positions"
	ComponentNormals   = "normals"
	ComponentTexcoords = "texcoords"
	ComponentColors    = "colors"
	ComponentIndices   = "indices"
	ComponentLayout    = "layout"
)

var knownComponents = []string{
	ComponentPositions,
	ComponentNormals,
	ComponentTexcoords,
	ComponentColors,
	ComponentIndices,
	ComponentLayout,
}

type FramesConfig struct {
	// Frames the GPU may still be working on; the GC grace window.
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
}

type ClassifierConfig struct {
	// Fraction of changed vertices above which a same-count update is rebuilt
	// instead of refit. 0 disables the check.
	RebuildVertexDelta float32 `toml:"rebuild_vertex_delta"`
	// Per-component tolerance used when counting changed vertices.
	PositionTolerance float32 `toml:"position_tolerance"`
}

type HashingConfig struct {
	// Components that identify a scene object across frames.
	AssetRule []string `toml:"asset_rule"`
	// Components whose change triggers a geometry update.
	GenerationRule []string `toml:"generation_rule"`
	// Size of the worker pool hashing batched draw calls.
	Workers int `toml:"workers"`
}

type DedupConfig struct {
	Materials bool `toml:"materials"`
	Samplers  bool `toml:"samplers"`
	Buffers   bool `toml:"buffers"`
	// Forwarded to sibling caches, not interpreted by the scene core.
	RandomReplacement  bool `toml:"random_replacement"`
	ImportanceWeighted bool `toml:"importance_weighted"`
}

type LimitsConfig struct {
	MaxObjects   uint32 `toml:"max_objects"`
	MaxInstances uint32 `toml:"max_instances"`
	MaxMaterials uint32 `toml:"max_materials"`
	MaxSamplers  uint32 `toml:"max_samplers"`
	MaxBuffers   uint32 `toml:"max_buffers"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Frames     FramesConfig     `toml:"frames"`
	Classifier ClassifierConfig `toml:"classifier"`
	Hashing    HashingConfig    `toml:"hashing"`
	Dedup      DedupConfig      `toml:"dedup"`
	Limits     LimitsConfig     `toml:"limits"`
	Log        LogConfig        `toml:"log"`
}

func Default() *Config {
	return &Config{
		Frames: FramesConfig{
			MaxFramesInFlight: 3,
		},
		Classifier: ClassifierConfig{
			RebuildVertexDelta: 0,
			PositionTolerance:  0,
		},
		Hashing: HashingConfig{
			AssetRule:      []string{ComponentIndices, ComponentTexcoords, ComponentLayout},
			GenerationRule: slices.Clone(knownComponents),
			Workers:        4,
		},
		Dedup: DedupConfig{
			Materials: true,
			Samplers:  true,
			Buffers:   true,
		},
		Limits: LimitsConfig{
			MaxObjects:   1 << 16,
			MaxInstances: 1 << 16,
			MaxMaterials: 1 << 16,
			MaxSamplers:  1 << 12,
			MaxBuffers:   1 << 18,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes TOML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// Validate rejects unusable values and clamps tunables into range.
func (c *Config) Validate() error {
	if c.Frames.MaxFramesInFlight == 0 {
		return fmt.Errorf("%w: frames.max_frames_in_flight must be > 0", core.ErrInvalidConfig)
	}
	c.Classifier.RebuildVertexDelta = math.Clamp(c.Classifier.RebuildVertexDelta, 0, 1)
	if c.Classifier.PositionTolerance < 0 {
		c.Classifier.PositionTolerance = 0
	}
	c.Hashing.Workers = math.Clamp(c.Hashing.Workers, 1, 64)

	for _, rule := range [][]string{c.Hashing.AssetRule, c.Hashing.GenerationRule} {
		if len(rule) == 0 {
			return fmt.Errorf("%w: hash rules must name at least one component", core.ErrInvalidConfig)
		}
		for i, component := range rule {
			rule[i] = strings.ToLower(strings.TrimSpace(component))
			if !slices.Contains(knownComponents, rule[i]) {
				return fmt.Errorf("%w: unknown hash rule component %q", core.ErrInvalidConfig, component)
			}
		}
	}

	if _, err := core.ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
