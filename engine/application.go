package engine

import (
	"time"

	"github.com/spaghettifunk/rtscene/engine/core"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name string
	// Path of the TOML configuration. Empty means built-in defaults.
	ConfigPath string
	// Reload the configuration whenever the file changes.
	WatchConfig bool
	// Number of frames to run before returning from Run. Zero runs until cancelled.
	FrameLimit uint32
	// Minimum wall time of one frame. Zero disables frame pacing.
	TargetFrameTime time.Duration
	LogLevel        core.LogLevel
}
