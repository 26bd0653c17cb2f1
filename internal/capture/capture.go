package capture

import (
	"context"
	"errors"
	"io"
)

// Config describes how the microphone should be opened.
type Config struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
}

// Session is a live microphone stream. Stop is idempotent.
type Session interface {
	io.ReadCloser
	Stop() error
}

// Device opens microphone sessions. Implementations own the real
// capture resource; callers only ever see PCM bytes.
type Device interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}

var (
	// ErrPermissionDenied marks a microphone that could not be acquired
	// because the host refused access to the device.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrCaptureClosed is returned when reading from a controller that
	// has been stopped or whose device stream ended.
	ErrCaptureClosed = errors.New("capture closed")

	// ErrRecorderActive guards the single-recorder invariant.
	ErrRecorderActive = errors.New("a recording is already active")
)
