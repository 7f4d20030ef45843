package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage atomic.Uint32
	gameInstance *Game
	isRunning    atomic.Bool
	cfg          *config.Config
	scene        *scene.SceneManager
	watcher      *config.Watcher
	clock        *core.FrameClock
	frames       uint32
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("game and application config are required")
	}
	if g.FnSubmit == nil {
		return nil, fmt.Errorf("game %q has no submit function", g.ApplicationConfig.Name)
	}

	e := &Engine{
		gameInstance: g,
		clock:        core.NewClock(),
	}
	e.setStage(EngineStageBooting)
	core.SetLogLevel(g.ApplicationConfig.LogLevel)

	cfg := config.Default()
	if path := g.ApplicationConfig.ConfigPath; path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			core.LogError(err.Error())
			return nil, err
		}
		cfg = loaded
		level, err := core.ParseLogLevel(cfg.Log.Level)
		if err != nil {
			core.LogWarn("keeping log level: %s", err.Error())
		} else {
			core.SetLogLevel(level)
		}
	}
	e.cfg = cfg

	sm, err := scene.NewSceneManager(cfg, g.Builder)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.scene = sm

	e.setStage(EngineStageBootComplete)
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.Stage() != EngineStageBootComplete {
		return core.ErrAlreadyInitialized
	}
	e.setStage(EngineStageInitializing)

	if err := e.scene.Initialize(); err != nil {
		return err
	}
	e.gameInstance.Scene = e.scene

	// register some events
	e.scene.Events().Register(core.EVENT_CODE_CONFIG_RELOADED, e, e.onEvent)
	e.scene.Events().Register(core.EVENT_CODE_OBJECT_DESTROYED, e, e.onEvent)

	app := e.gameInstance.ApplicationConfig
	if app.WatchConfig && app.ConfigPath != "" {
		w, err := config.NewWatcher(app.ConfigPath, func(cfg *config.Config) {
			if err := e.scene.ApplyConfig(cfg); err != nil {
				core.LogWarn("config reload rejected: %s", err.Error())
			}
		})
		if err != nil {
			return err
		}
		e.watcher = w
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}

	e.isRunning.Store(true)
	e.setStage(EngineStageInitialized)
	core.LogInfo("%s initialized", app.Name)
	return nil
}

// Run drives frames until the context is cancelled, the frame limit is hit
// or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	if e.Stage() != EngineStageInitialized {
		return core.ErrNotInitialized
	}
	e.setStage(EngineStageRunning)
	defer e.setStage(EngineStageInitialized)

	app := e.gameInstance.ApplicationConfig
	e.clock.Start()

	for e.isRunning.Load() {
		if ctx.Err() != nil {
			return nil
		}
		frameStart := time.Now()

		if err := e.runFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			core.LogError("frame %d failed, shutting down: %s", e.clock.Current(), err.Error())
			e.isRunning.Store(false)
			return err
		}

		e.frames++
		if app.FrameLimit > 0 && e.frames >= app.FrameLimit {
			core.LogInfo("frame limit of %d reached", app.FrameLimit)
			return nil
		}

		// If there is time left, give it back to the OS.
		remaining := app.TargetFrameTime - time.Since(frameStart)
		if app.TargetFrameTime > 0 && remaining > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(remaining):
			}
		}
	}
	return nil
}

func (e *Engine) runFrame(ctx context.Context) error {
	g := e.gameInstance
	frame := e.clock.Advance()
	delta := e.clock.LastFrameTime().Seconds()

	if err := e.scene.BeginFrame(frame); err != nil {
		return err
	}

	if g.FnUpdate != nil {
		if err := g.FnUpdate(frame, delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	dcs, err := g.FnSubmit(frame)
	if err != nil {
		return fmt.Errorf("game submit: %w", err)
	}
	if _, err := e.scene.SubmitDrawCalls(ctx, dcs); err != nil {
		// individual rejections are logged by the scene and do not stop the frame
		if errors.Is(err, core.ErrCacheExhausted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	update, err := e.scene.EndFrame(g.Reader)
	if err != nil {
		return err
	}

	if g.FnOnFrameEnd != nil {
		if err := g.FnOnFrameEnd(update); err != nil {
			return fmt.Errorf("game frame end: %w", err)
		}
	}
	return nil
}

// Stop asks Run to return after the current frame.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.setStage(EngineStageShuttingDown)
	e.isRunning.Store(false)

	var errs []error
	if e.watcher != nil {
		errs = append(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.scene != nil {
		if err := e.scene.Destroy(); err != nil && !errors.Is(err, core.ErrNotInitialized) {
			errs = append(errs, err)
		}
	}
	e.setStage(EngineStageUninitialized)
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage {
	return Stage(e.currentStage.Load())
}

func (e *Engine) setStage(s Stage) {
	e.currentStage.Store(uint32(s))
}

func (e *Engine) Scene() *scene.SceneManager {
	return e.scene
}

// FramesRun counts the frames completed by Run.
func (e *Engine) FramesRun() uint32 {
	return e.frames
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, context core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_CONFIG_RELOADED:
		core.LogInfo("configuration applied at frame %d", context.Frame)
	case core.EVENT_CODE_OBJECT_DESTROYED:
		core.LogDebug("object %d (asset %016x) reclaimed at frame %d", context.Handle, context.Key, context.Frame)
	}
	return false
}
