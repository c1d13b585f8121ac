package opus

import (
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
)

// 20 ms at 16 kHz, the pipeline's standard frame geometry.
const (
	testSampleRate = 16000
	testFrameSize  = 320
)

// sineFrame produces one frame of a 440 Hz tone so the codec has real
// signal to work with.
func sineFrame() []byte {
	pcm := make([]int16, testFrameSize)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/testSampleRate))
	}
	return audio.Int16ToBytes(pcm)
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	enc, err := NewEncoder(testSampleRate, testFrameSize)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	dec, err := NewDecoder(testSampleRate, testFrameSize)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	frame := sineFrame()
	for i := 0; i < 5; i++ {
		pkt, err := enc.Encode(frame)
		if err != nil {
			t.Fatalf("Encode frame %d: %v", i, err)
		}
		if len(pkt) == 0 {
			t.Fatalf("Encode frame %d produced an empty packet", i)
		}
		if len(pkt) >= len(frame) {
			t.Errorf("packet %d is %d bytes, no smaller than the %d-byte frame", i, len(pkt), len(frame))
		}

		pcm, err := dec.Decode(pkt)
		if err != nil {
			t.Fatalf("Decode frame %d: %v", i, err)
		}
		if len(pcm) != len(frame) {
			t.Errorf("decoded frame %d is %d bytes, want %d", i, len(pcm), len(frame))
		}
	}
}

func TestEncodeWrongFrameSize(t *testing.T) {
	enc, err := NewEncoder(testSampleRate, testFrameSize)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	if _, err := enc.Encode(make([]byte, 100)); err == nil {
		t.Error("Encode accepted a frame with the wrong sample count")
	}
}
