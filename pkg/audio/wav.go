package audio

import (
	"encoding/binary"
	"errors"
)

// EncodeWAV wraps raw 16-bit little-endian PCM in a standard 44-byte RIFF/WAV
// header so browsers can play synthesised speech directly from the media
// directory.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const (
		headerSize    = 44
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, headerSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM format tag
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)

	return out
}

// DecodeWAV extracts the format and raw PCM payload from a RIFF/WAV byte
// slice. It walks the chunk list rather than assuming a 44-byte header, since
// synthesis servers pad the container with extra chunks. The returned PCM
// slice aliases wav.
func DecodeWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < 12 {
		return Format{}, nil, errors.New("audio: too short for a RIFF container")
	}
	if string(wav[0:4]) != "RIFF" {
		return Format{}, nil, errors.New("audio: missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return Format{}, nil, errors.New("audio: missing WAVE identifier")
	}

	var f Format
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				body := wav[offset+8:]
				f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
				f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			}
		case "data":
			if f.SampleRate == 0 {
				return Format{}, nil, errors.New("audio: data chunk precedes fmt chunk")
			}
			end := offset + 8 + chunkSize
			if end > len(wav) {
				end = len(wav)
			}
			return f, wav[offset+8 : end], nil
		}

		// Chunks are word-aligned; odd sizes carry one pad byte.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Format{}, nil, errors.New("audio: missing data chunk")
}
