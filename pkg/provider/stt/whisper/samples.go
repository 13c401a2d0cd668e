package whisper

import "encoding/binary"

// floatSamples converts 16-bit signed little-endian PCM to the normalised
// float32 mono samples whisper.cpp consumes, averaging channels per frame
// when the input is interleaved multi-channel. Trailing bytes that do not
// fill a whole frame are ignored; channels below 1 is treated as mono.
func floatSamples(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (bytesPerSample * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			off := (i*channels + ch) * bytesPerSample
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+bytesPerSample]))
			sum += float32(s) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
