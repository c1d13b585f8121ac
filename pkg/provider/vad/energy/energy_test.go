package energy

import (
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// testFrame builds a 20 ms PCM16 mono frame at 16 kHz with every sample set
// to amplitude. RMS is amplitude/32768, so 8192 scores well above the
// default reference and 0 scores silence.
func testFrame(amplitude int16) []byte {
	pcm := make([]int16, 320)
	for i := range pcm {
		pcm[i] = amplitude
	}
	return audio.Int16ToBytes(pcm)
}

func newTestSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	sess, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func process(t *testing.T, sess vad.SessionHandle, frame []byte) vad.Event {
	t.Helper()
	ev, err := sess.ProcessFrame(frame)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev
}

func TestHysteresis(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		StartFrames:      2,
		EndFrames:        3,
		SmoothingWindow:  1,
	})

	loud, quiet := testFrame(8192), testFrame(0)

	steps := []struct {
		frame []byte
		want  vad.EventType
	}{
		{loud, vad.Silence},        // above = 1, not yet speaking
		{loud, vad.SpeechStart},    // above = 2 = StartFrames
		{loud, vad.SpeechContinue},
		{quiet, vad.SpeechContinue}, // below = 1
		{quiet, vad.SpeechContinue}, // below = 2
		{quiet, vad.SpeechEnd},      // below = 3 = EndFrames
		{quiet, vad.Silence},
	}
	for i, step := range steps {
		if got := process(t, sess, step.frame); got.Type != step.want {
			t.Errorf("frame %d: got %v, want %v", i, got.Type, step.want)
		}
	}
}

func TestStartCounterResetsOnDip(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		StartFrames:      2,
		EndFrames:        3,
		SmoothingWindow:  1,
	})

	loud, quiet := testFrame(8192), testFrame(0)

	// A single loud frame between quiet ones must never start speech.
	for i, frame := range [][]byte{loud, quiet, loud, quiet} {
		if got := process(t, sess, frame); got.Speaking() {
			t.Errorf("frame %d: entered speaking state from isolated loud frames", i)
		}
	}
}

func TestSmoothingSuppressesSpike(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		StartFrames:      1,
		EndFrames:        1,
		SmoothingWindow:  3,
	})

	loud, quiet := testFrame(8192), testFrame(0)

	process(t, sess, quiet)
	process(t, sess, quiet)
	// Raw score 1.0 smoothed over {0, 0, 1} is 1/3, below the threshold.
	got := process(t, sess, loud)
	if got.Type != vad.Silence {
		t.Errorf("got %v, want %v", got.Type, vad.Silence)
	}
	if got.Probability > 0.4 {
		t.Errorf("smoothed probability = %f, want about 0.33", got.Probability)
	}
}

func TestReset(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		StartFrames:      2,
		EndFrames:        3,
		SmoothingWindow:  1,
	})

	loud := testFrame(8192)
	process(t, sess, loud)
	process(t, sess, loud)
	if got := process(t, sess, loud); !got.Speaking() {
		t.Fatal("expected speaking state before reset")
	}

	sess.Reset()

	// Counters restart: one loud frame is not enough to re-enter speaking.
	if got := process(t, sess, loud); got.Type != vad.Silence {
		t.Errorf("after reset: got %v, want %v", got.Type, vad.Silence)
	}
}

func TestFrameSizeMismatch(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})

	if _, err := sess.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("ProcessFrame accepted a frame of the wrong size")
	}
}

func TestProcessAfterClose(t *testing.T) {
	sess := newTestSession(t, vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(testFrame(0)); err == nil {
		t.Error("ProcessFrame succeeded on a closed session")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 20, SpeechThreshold: 0.5}},
		{"zero frame size", vad.Config{SampleRate: 16000, SpeechThreshold: 0.5}},
		{"speech threshold above one", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.4, SilenceThreshold: 0.6}},
		{"end below start", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.5, StartFrames: 5, EndFrames: 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New().NewSession(tc.cfg); err == nil {
				t.Error("NewSession accepted an invalid config")
			}
		})
	}
}
