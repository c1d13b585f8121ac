package audio

import "math"

// BytesToInt16 converts little-endian bytes to a slice of int16 PCM samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Int16ToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// RMS computes the root-mean-square level of a PCM16 little-endian buffer,
// normalised to [0, 1]. Returns 0 for an empty buffer.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sumSq += s * s
	}
	return math.Sqrt(sumSq/float64(n)) / 32768.0
}

// Float32Mono converts PCM16 little-endian audio to normalised float32 mono
// samples in [-1, 1]. Multi-channel input is downmixed by averaging.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	samples := BytesToInt16(pcm)
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = float32(sum/channels) / 32768.0
	}
	return out
}
