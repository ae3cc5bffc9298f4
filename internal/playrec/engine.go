package playrec

import (
	"context"
	"io"
	"time"
)

// PlaybackEngine renders a prepared source. Implementations must not invoke
// their onEnd callback while holding a lock the caller could be waiting on.
type PlaybackEngine interface {
	Start() error
	Pause() error
	Stop() error
	Seek(position time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	SetVolume(volume float64)
}

// RecordingEngine captures audio into a local file.
type RecordingEngine interface {
	Start() error
	Pause() error
	Stop() error
	Position() time.Duration
}

// EngineFactory builds engines for a session. onEnd is called once when the
// engine stops on its own: nil for a natural end, non-nil on failure.
type EngineFactory interface {
	NewPlayback(ctx context.Context, src Source, onEnd func(error)) (PlaybackEngine, error)
	NewRecording(ctx context.Context, path string, onEnd func(error)) (RecordingEngine, error)
}

// Source is resolved media ready to be decoded.
type Source interface {
	Name() string
	Open() (io.ReadSeekCloser, error)
}

// Resolver turns a resource location into a Source. It may block on I/O and
// must honor ctx cancellation.
type Resolver interface {
	Resolve(ctx context.Context, location string) (Source, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, location string) (Source, error)

func (f ResolverFunc) Resolve(ctx context.Context, location string) (Source, error) {
	return f(ctx, location)
}

// PermissionProvider gates access to capture hardware.
type PermissionProvider interface {
	RequestRecordPermission(ctx context.Context) error
}

// PermissionFunc adapts a function to PermissionProvider.
type PermissionFunc func(ctx context.Context) error

func (f PermissionFunc) RequestRecordPermission(ctx context.Context) error {
	return f(ctx)
}

// AllowRecording grants every permission request.
var AllowRecording PermissionProvider = PermissionFunc(func(context.Context) error { return nil })

// DenyRecording refuses every permission request.
var DenyRecording PermissionProvider = PermissionFunc(func(context.Context) error { return ErrPermissionDenied })
