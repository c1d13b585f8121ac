// Package miniaudio implements [audio.Source] on top of the miniaudio
// library via the malgo bindings. It opens the system default capture
// device and reslices the callback stream into fixed-size frames.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Config holds the capture parameters for a miniaudio source.
type Config struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// FrameDuration is the duration of each produced frame. Default: 20 ms.
	FrameDuration time.Duration

	// QueueFrames is the capacity of the internal frame queue between the
	// device callback and Read. Default: 16.
	QueueFrames int
}

func (c *Config) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.QueueFrames <= 0 {
		c.QueueFrames = 16
	}
}

// Source captures mono PCM16 frames from the default input device.
// It implements [audio.Source].
type Source struct {
	cfg        Config
	frameBytes int

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames chan audio.Frame

	mu     sync.Mutex
	rem    []byte
	seq    uint64
	closed bool
}

var _ audio.Source = (*Source)(nil)

// New opens the default capture device. Returns a *audio.DeviceError when no
// usable device exists or the backend cannot be initialised.
func New(cfg Config) (*Source, error) {
	cfg.defaults()

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, &audio.DeviceError{Device: "miniaudio", Err: fmt.Errorf("init context: %w", err)}
	}

	s := &Source{
		cfg:        cfg,
		frameBytes: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}.FrameBytes(cfg.FrameDuration),
		ctx:        mctx,
		frames:     make(chan audio.Frame, cfg.QueueFrames),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.Alsa.NoMMap = 1
	devCfg.PerformanceProfile = malgo.LowLatency
	devCfg.PeriodSizeInFrames = uint32(s.frameBytes / 2)

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			if len(pInput) == 0 {
				return
			}
			s.onCapture(pInput)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, &audio.DeviceError{Device: "miniaudio", Err: fmt.Errorf("init capture device: %w", err)}
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, &audio.DeviceError{Device: "miniaudio", Err: fmt.Errorf("start capture device: %w", err)}
	}

	return s, nil
}

// onCapture runs on the miniaudio callback thread. It copies the callback
// buffer (malgo reuses it), reslices into fixed frames, and enqueues them.
// A full queue drops the oldest frame; the bus accounts for drops downstream,
// this queue only bridges the device thread.
func (s *Source) onCapture(in []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.rem = append(s.rem, in...)
	for len(s.rem) >= s.frameBytes {
		data := make([]byte, s.frameBytes)
		copy(data, s.rem)
		n := copy(s.rem, s.rem[s.frameBytes:])
		s.rem = s.rem[:n]

		f := audio.Frame{
			Data:      data,
			Seq:       s.seq,
			Timestamp: time.Duration(s.seq) * s.cfg.FrameDuration,
		}
		s.seq++

		select {
		case s.frames <- f:
		default:
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- f:
			default:
			}
		}
	}
}

// Read blocks until the next captured frame is available.
func (s *Source) Read(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return audio.Frame{}, audio.ErrSourceClosed
		}
		return f, nil
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close stops and releases the capture device. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	var errs []error
	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture device: %w", err))
		}
		s.device.Uninit()
	}
	if s.ctx != nil {
		if err := s.ctx.Uninit(); err != nil {
			errs = append(errs, fmt.Errorf("uninit context: %w", err))
		}
		s.ctx.Free()
	}
	return errors.Join(errs...)
}
