package engine

import (
	"github.com/spaghettifunk/rtscene/engine/scene"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	// Set by the engine during Initialize.
	Scene *scene.SceneManager
	State interface{}
	// Receives the per-frame acceleration structure work. Optional.
	Builder scene.AccelBuilder
	// Answers pick readbacks. Optional.
	Reader       scene.SurfaceReader
	FnInitialize Initialize
	FnUpdate     Update
	FnSubmit     Submit
	FnOnFrameEnd OnFrameEnd
	FnShutdown   Shutdown
}

type Initialize func() error
type Update func(frame uint32, deltaTime float64) error
type Submit func(frame uint32) ([]scene.DrawCall, error)
type OnFrameEnd func(update *scene.FrameUpdate) error
type Shutdown func() error
