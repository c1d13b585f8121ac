package audio

import (
	"math"
	"testing"
	"time"
)

func TestInt16Roundtrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 1000, -1000}
	got := BytesToInt16(Int16ToBytes(pcm))
	if len(got) != len(pcm) {
		t.Fatalf("got %d samples, want %d", len(got), len(pcm))
	}
	for i := range pcm {
		if got[i] != pcm[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], pcm[i])
		}
	}
}

func TestBytesToInt16OddLength(t *testing.T) {
	if got := BytesToInt16([]byte{0x34, 0x12, 0xff}); len(got) != 1 || got[0] != 0x1234 {
		t.Errorf("got %v, want [4660]", got)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []int16
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]int16, 160), 0},
		{"constant", []int16{16384, 16384, 16384, 16384}, 0.5},
		{"alternating", []int16{16384, -16384}, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RMS(Int16ToBytes(tc.pcm))
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("RMS = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestFloat32Mono(t *testing.T) {
	t.Run("mono passthrough", func(t *testing.T) {
		got := Float32Mono(Int16ToBytes([]int16{16384, -16384, 0}), 1)
		want := []float32{0.5, -0.5, 0}
		if len(got) != len(want) {
			t.Fatalf("got %d samples, want %d", len(got), len(want))
		}
		for i := range want {
			if math.Abs(float64(got[i]-want[i])) > 1e-6 {
				t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
			}
		}
	})

	t.Run("stereo downmix", func(t *testing.T) {
		got := Float32Mono(Int16ToBytes([]int16{16384, 0, -16384, -16384}), 2)
		want := []float32{0.25, -0.5}
		if len(got) != len(want) {
			t.Fatalf("got %d frames, want %d", len(got), len(want))
		}
		for i := range want {
			if math.Abs(float64(got[i]-want[i])) > 1e-6 {
				t.Errorf("frame %d: got %f, want %f", i, got[i], want[i])
			}
		}
	})
}

func TestFormatFrameBytes(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	if got := f.FrameBytes(20 * time.Millisecond); got != 640 {
		t.Errorf("FrameBytes(20ms) = %d, want 640", got)
	}
}
