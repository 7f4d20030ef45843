package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/scene"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func triangle(offset float32) scene.GeometryData {
	return scene.GeometryData{
		Topology: scene.TopologyTriangleList,
		Positions: []mgl32.Vec3{
			{0, 0, offset}, {1, 0, offset}, {0, 1, offset},
		},
		Texcoords:    []mgl32.Vec2{{0, 0}, {1, 0}, {0, 1}},
		Indices:      []uint32{0, 1, 2},
		VertexStride: 20,
	}
}

type testGame struct {
	*Game
	updates  []*scene.FrameUpdate
	geometry []scene.GeometryData
	inits    int
	shutdown int
}

func newTestGame(app *ApplicationConfig) *testGame {
	tg := &testGame{
		Game:     &Game{ApplicationConfig: app},
		geometry: []scene.GeometryData{triangle(0)},
	}
	tg.Builder = scene.AccelBuilderFunc(func(u *scene.FrameUpdate) {
		tg.updates = append(tg.updates, u)
	})
	tg.FnInitialize = func() error {
		tg.inits++
		return nil
	}
	tg.FnSubmit = func(frame uint32) ([]scene.DrawCall, error) {
		dcs := make([]scene.DrawCall, 0, len(tg.geometry))
		for i, g := range tg.geometry {
			dcs = append(dcs, scene.DrawCall{
				InstanceKey: uint64(i + 1),
				Geometry:    g,
				Transform:   mgl32.Ident4(),
				Visibility:  scene.VisibilityAll,
			})
		}
		return dcs, nil
	}
	tg.FnShutdown = func() error {
		tg.shutdown++
		return nil
	}
	return tg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtscene.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEngineLifecycle(t *testing.T) {
	tg := newTestGame(&ApplicationConfig{Name: "lifecycle", FrameLimit: 5, LogLevel: core.ErrorLevel})

	e, err := New(tg.Game)
	require.NoError(t, err)
	assert.Equal(t, EngineStageBootComplete, e.Stage())
	assert.ErrorIs(t, e.Run(context.Background()), core.ErrNotInitialized)

	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Same(t, e.Scene(), tg.Scene)
	assert.Equal(t, 1, tg.inits)
	assert.ErrorIs(t, e.Initialize(), core.ErrAlreadyInitialized)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint32(5), e.FramesRun())
	require.Len(t, tg.updates, 5)
	assert.Equal(t, uint32(0), tg.updates[0].Frame)
	assert.Len(t, tg.updates[0].BuildObjects, 1)
	assert.Len(t, tg.updates[0].AddedInstances, 1)
	for _, u := range tg.updates[1:] {
		assert.Empty(t, u.BuildObjects)
		assert.Empty(t, u.AddedInstances)
	}
	assert.Equal(t, uint32(4), e.Scene().Frame())

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageUninitialized, e.Stage())
	assert.Equal(t, 1, tg.shutdown)
}

func TestEngineRunStopsOnCancel(t *testing.T) {
	tg := newTestGame(&ApplicationConfig{Name: "cancel", LogLevel: core.ErrorLevel})
	e, err := New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Zero(t, e.FramesRun())
}

func TestEngineRejectedDrawCallsDoNotStopTheFrame(t *testing.T) {
	tg := newTestGame(&ApplicationConfig{Name: "reject", FrameLimit: 2, LogLevel: core.ErrorLevel})
	bad := triangle(1)
	bad.Indices = []uint32{0, 1, 7}
	tg.geometry = append(tg.geometry, bad)

	e, err := New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint32(2), e.FramesRun())
	assert.Equal(t, 1, e.Scene().Objects().Len())
}

func TestEngineCacheExhaustionIsFatal(t *testing.T) {
	path := writeConfig(t, "[limits]\nmax_objects = 1\n")
	tg := newTestGame(&ApplicationConfig{Name: "exhausted", ConfigPath: path, FrameLimit: 3, LogLevel: core.ErrorLevel})
	tg.geometry = append(tg.geometry, triangle(2))
	tg.geometry[1].Texcoords[0] = mgl32.Vec2{0.5, 0.5}

	e, err := New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })

	err = e.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrCacheExhausted)
	assert.Zero(t, e.FramesRun())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Game{ApplicationConfig: &ApplicationConfig{Name: "no-submit"}})
	assert.Error(t, err)

	path := writeConfig(t, "[frames]\nmax_frames_in_flight = 0\n")
	tg := newTestGame(&ApplicationConfig{Name: "bad-config", ConfigPath: path})
	_, err = New(tg.Game)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestEngineWatchesConfig(t *testing.T) {
	path := writeConfig(t, "[frames]\nmax_frames_in_flight = 3\n[log]\nlevel = \"error\"\n")
	tg := newTestGame(&ApplicationConfig{Name: "watch", ConfigPath: path, WatchConfig: true, FrameLimit: 1})

	e, err := New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NotNil(t, e.watcher)

	require.NoError(t, e.Shutdown())
	assert.Nil(t, e.watcher)
	// a second shutdown is harmless
	require.NoError(t, e.Shutdown())
}
