package core

import (
	"errors"
)

var (
	ErrNotInitialized     = errors.New("scene manager not initialized")
	ErrAlreadyInitialized = errors.New("scene manager already initialized")
	ErrInvalidDrawCall    = errors.New("invalid draw call")
	ErrTopologyMismatch   = errors.New("draw call topology does not match cached object")
	ErrCacheExhausted     = errors.New("cache capacity exhausted")
	ErrInvalidHandle      = errors.New("invalid handle")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrStaleRequest       = errors.New("stale cross-frame request")
	ErrFrameNotStarted    = errors.New("no frame in progress")
)
