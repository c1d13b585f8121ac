// Package opus wraps the gopus codec for utterance archival. Earshot records
// speech at 16 kHz mono; each pipeline frame is encoded as one Opus packet
// using the VOIP application profile.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/earshot/pkg/audio"
)

// maxPacketBytes bounds the size of a single encoded packet. Opus VOIP
// packets at 16 kHz mono are far smaller; this is the buffer ceiling passed
// to the encoder.
const maxPacketBytes = 4000

// Encoder encodes fixed-size PCM16 frames into Opus packets. Each stream
// needs its own Encoder to keep codec state consistent across consecutive
// frames. Not safe for concurrent use.
type Encoder struct {
	enc       *gopus.Encoder
	frameSize int // samples per channel per frame
}

// NewEncoder creates an encoder for mono PCM16 audio at the given sample
// rate and frame size in samples. The frame size must match every buffer
// later passed to Encode.
func NewEncoder(sampleRate, frameSize int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frameSize: frameSize}, nil
}

// Encode encodes one frame of little-endian PCM16 mono audio into a single
// Opus packet. The input must contain exactly the frame size configured at
// construction.
func (e *Encoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := audio.BytesToInt16(pcmBytes)
	if len(pcm) != e.frameSize {
		return nil, fmt.Errorf("opus: frame has %d samples, encoder expects %d", len(pcm), e.frameSize)
	}
	pkt, err := e.enc.Encode(pcm, e.frameSize, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decoder decodes Opus packets back into PCM16 mono audio. Each stream needs
// its own Decoder. Not safe for concurrent use.
type Decoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// NewDecoder creates a decoder matching [NewEncoder]'s parameters.
func NewDecoder(sampleRate, frameSize int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, frameSize: frameSize}, nil
}

// Decode decodes a single Opus packet into little-endian PCM16 mono bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}
