// Package audio defines the core types for audio capture and frame
// distribution within earshot.
//
// The two primary abstractions are:
//
//   - [Source] — a blocking capture device that produces [Frame] values.
//   - [Bus] — a bounded single-producer/multi-consumer frame distributor
//     that decouples capture cadence from detector cadence.
//
// Implementations of [Source] are provided by device-specific adapter
// packages (e.g., audio/miniaudio). The interfaces are intentionally narrow
// to keep the session state machine decoupled from device details.
//
// This package lives under pkg/ because external code (alternative capture
// adapters) is expected to implement [Source].
package audio

import (
	"context"
	"fmt"
	"time"
)

// Frame is a single fixed-size block of PCM audio flowing through the
// pipeline. Frames are the atomic unit of audio transport — captured from
// the input device, fanned out by the [Bus], scored by the wake and VAD
// detectors, and accumulated into utterances.
//
// A Frame is immutable once published: the Data slice must not be modified
// by any consumer.
type Frame struct {
	// Data is raw little-endian 16-bit signed PCM. Sample rate and channel
	// count are fixed by the pipeline config.
	Data []byte

	// Seq is the monotonic sequence number assigned by the capture source.
	// Strictly increasing; a jump greater than one indicates dropped frames.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / 2
}

// Duration returns the play time of the frame at the given sample rate for
// mono audio.
func (f Frame) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(sampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the size in bytes of one PCM16 frame of the given
// duration in this format.
func (f Format) FrameBytes(frameDuration time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(frameDuration) / int64(time.Second))
	return samples * f.Channels * 2
}

// DeviceError reports a fatal capture-device failure (device disconnected,
// permission denied, backend initialisation failure). A DeviceError is fatal
// to the whole pipeline: sources must not retry internally; the session
// controller decides the retry policy.
type DeviceError struct {
	// Device is a human-readable identifier of the failing device or backend.
	Device string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Source is a blocking-pull capture device. Read suspends the calling
// goroutine until a frame is ready, the context is cancelled, or the device
// fails. The frame sequence is lazy, infinite, and non-restartable: once a
// Source returns an error, all subsequent reads fail.
//
// Implementations must assign strictly increasing Seq values and capture
// timestamps derived from the sample clock.
type Source interface {
	// Read blocks until the next frame is available. Returns a *DeviceError
	// on device failure, ctx.Err() on cancellation, or ErrSourceClosed after
	// Close.
	Read(ctx context.Context) (Frame, error)

	// Close releases the capture device. Safe to call more than once.
	Close() error
}
