// Package audio provides PCM helpers for the hotseat audio path: RMS energy
// measurement for voice activity detection, sample-rate/channel normalisation
// for browser-captured microphone audio, and WAV encoding for synthesised
// speech written to the media directory.
//
// All functions operate on 16-bit little-endian PCM byte slices.
package audio

import "math"

// RMS computes the root-mean-square amplitude of 16-bit little-endian PCM.
// The result is in raw sample units (0–32768). Empty or odd-length input
// yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*2; i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// SampleCount returns the number of int16 samples in a PCM byte slice.
func SampleCount(pcm []byte) int {
	return len(pcm) / 2
}

// DurationMs returns the playback duration in milliseconds of mono PCM at the
// given sample rate. Returns 0 for a non-positive rate.
func DurationMs(pcm []byte, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return SampleCount(pcm) * 1000 / sampleRate
}
