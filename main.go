/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/rtscene/engine"
	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/testbed"
)

func main() {
	configPath := flag.String("config", "", "path of the TOML scene configuration")
	watch := flag.Bool("watch", true, "reload the configuration when the file changes")
	frames := flag.Uint("frames", 0, "number of frames to run, 0 runs until interrupted")
	fps := flag.Uint("fps", 60, "frame rate cap, 0 disables pacing")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "random seed of the testbed")
	logLevel := flag.String("log-level", "info", "log level before the configuration is read")
	flag.Parse()

	level, err := core.ParseLogLevel(*logLevel)
	if err != nil {
		core.LogFatal(err.Error())
	}

	app := &engine.ApplicationConfig{
		Name:        "rtscene testbed",
		ConfigPath:  *configPath,
		WatchConfig: *watch,
		FrameLimit:  uint32(*frames),
		LogLevel:    level,
	}
	if *fps > 0 {
		app.TargetFrameTime = time.Second / time.Duration(*fps)
	}

	tb, err := testbed.NewTestGame(app, *seed)
	if err != nil {
		core.LogFatal(err.Error())
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal(err.Error())
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	g.Go(func() error {
		// stop the tooling once the engine is done
		defer cancel()
		return e.Run(runCtx)
	})
	g.Go(func() error {
		return tb.Tooling(runCtx, 250*time.Millisecond)
	})

	runErr := g.Wait()
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogError(runErr.Error())
		os.Exit(1)
	}
}
