// Package mock provides test doubles for the audio package interfaces.
//
// Use [Source] to feed a scripted frame sequence into the pipeline without a
// capture device. The zero value blocks forever; use Push or Script to queue
// frames and Fail to end the stream with a device error.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Source is a scripted implementation of [audio.Source].
type Source struct {
	mu     sync.Mutex
	queue  chan item
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

type item struct {
	frame audio.Frame
	err   error
}

var _ audio.Source = (*Source)(nil)

// NewSource creates a Source with room for capacity queued frames.
func NewSource(capacity int) *Source {
	if capacity <= 0 {
		capacity = 256
	}
	return &Source{queue: make(chan item, capacity)}
}

// Push queues a single frame for delivery by Read.
func (s *Source) Push(f audio.Frame) {
	s.queue <- item{frame: f}
}

// Fail queues an error; Read returns it after all previously queued frames
// have been consumed.
func (s *Source) Fail(err error) {
	s.queue <- item{err: err}
}

// Script queues n frames of frameDuration each, PCM16 mono at sampleRate,
// with sequence numbers starting at startSeq and all samples set to the
// given amplitude. Returns the next unused sequence number.
func (s *Source) Script(startSeq uint64, n int, sampleRate int, frameDuration time.Duration, amplitude int16) uint64 {
	samples := int(int64(sampleRate) * int64(frameDuration) / int64(time.Second))
	seq := startSeq
	for i := 0; i < n; i++ {
		pcm := make([]int16, samples)
		for j := range pcm {
			pcm[j] = amplitude
		}
		s.Push(audio.Frame{
			Data:      audio.Int16ToBytes(pcm),
			Seq:       seq,
			Timestamp: time.Duration(seq) * frameDuration,
		})
		seq++
	}
	return seq
}

// Read delivers the next scripted frame or error. It blocks when the script
// is exhausted, mirroring a quiet device.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case it := <-s.queue:
		if it.err != nil {
			return audio.Frame{}, it.err
		}
		return it.frame, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close records the call. Thread-safe.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.CloseCallCount++
	return nil
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
