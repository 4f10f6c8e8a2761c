// ABOUTME: Audio capture state machine: device acquisition, encoder with fallback, upload, dispatch
// ABOUTME: Defines the collaborator interfaces owned by the capture session

package capture

import (
	"context"
	"errors"
)

// State is the capture session's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateRecording  State = "recording"
	StateEncoding   State = "encoding"
	StateUploading  State = "uploading"
	StateDispatched State = "dispatched"
	StateFailed     State = "failed"
)

// ErrDeviceUnavailable is returned when the microphone cannot be acquired or
// both encoder paths fail.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrUploadFailed is returned when the encoded blob cannot be stored. The
// capture aborts with no message created and no artifact referenced.
var ErrUploadFailed = errors.New("audio upload failed")

// ErrInvalidState is returned for operations not legal in the current state,
// like stopping a session that never started.
var ErrInvalidState = errors.New("operation not valid in current capture state")

// Format describes the PCM stream a device produces.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Microphone acquires the audio device. The returned stream handle is
// exclusively owned by the active capture session.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open device stream delivering raw PCM chunks. Closing it
// releases the device lock and closes the Chunks channel.
type Stream interface {
	Format() Format
	Chunks() <-chan []byte
	Close() error
}

// Encoder consumes PCM chunks and produces one finished blob. Construction is
// the capability probe: a factory that cannot support the format fails there,
// not mid-recording.
type Encoder interface {
	Write(chunk []byte) error
	Finalize() (data []byte, mime string, err error)
	Close() error
}

// EncoderFactory builds an encoder for a device format, or reports that the
// format is unsupported.
type EncoderFactory func(f Format) (Encoder, error)
