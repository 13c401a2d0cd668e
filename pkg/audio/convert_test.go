package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/hotseat/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	// Two stereo frames: L=100,R=200 and L=-100,R=-200
	stereo := samplesToBytes([]int16{100, 200, -100, -200})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	want := []int16{150, -150}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	// Two max-positive samples must clamp to 32767, not overflow.
	stereo := samplesToBytes([]int16{32767, 32767})
	mono := audio.StereoToMono(stereo)
	got := bytesToSamples(mono)
	if len(got) != 1 {
		t.Fatalf("length mismatch: got %d, want 1", len(got))
	}
	if got[0] != 32767 {
		t.Errorf("got %d, want 32767", got[0])
	}
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0] != 100 {
		t.Errorf("first sample: got %d, want 100", got[0])
	}
}

func TestNormalizer_NoOpAtGateFormat(t *testing.T) {
	n := &audio.Normalizer{Source: audio.GateFormat}
	pcm := samplesToBytes([]int16{1, 2, 3})
	out := n.Normalize(pcm)
	if &out[0] != &pcm[0] {
		t.Error("expected the same backing array for matching formats")
	}
}

func TestNormalizer_Stereo48kToGate(t *testing.T) {
	// 48 stereo frames at 48kHz → 16 mono samples at 16kHz.
	samples := make([]int16, 96)
	for i := range samples {
		samples[i] = int16(i * 10)
	}
	n := &audio.Normalizer{Source: audio.Format{SampleRate: 48000, Channels: 2}}
	out := n.Normalize(samplesToBytes(samples))
	if got := len(out) / 2; got != 16 {
		t.Fatalf("expected 16 samples, got %d", got)
	}
}

func TestNormalizer_DropsOddLengthChunk(t *testing.T) {
	n := &audio.Normalizer{Source: audio.GateFormat}
	if out := n.Normalize([]byte{0x01, 0x02, 0x03}); out != nil {
		t.Fatalf("expected nil for odd-length chunk, got %d bytes", len(out))
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    float64
	}{
		{"silence", []int16{0, 0, 0, 0}, 0},
		{"constant", []int16{1000, 1000, 1000, 1000}, 1000},
		{"alternating", []int16{500, -500, 500, -500}, 500},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.RMS(samplesToBytes(tt.samples))
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("RMS: got %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestDurationMs(t *testing.T) {
	// 1600 samples at 16kHz = 100ms.
	pcm := make([]byte, 3200)
	if got := audio.DurationMs(pcm, 16000); got != 100 {
		t.Errorf("got %dms, want 100ms", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{100, -100, 200, -200})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate: got %d, want 16000", rate)
	}
	if dataLen := binary.LittleEndian.Uint32(wav[40:44]); int(dataLen) != len(pcm) {
		t.Errorf("data length: got %d, want %d", dataLen, len(pcm))
	}
	if string(wav[44:]) != string(pcm) {
		t.Error("PCM payload not preserved")
	}
}

func TestDecodeWAV_RoundTrip(t *testing.T) {
	pcm := samplesToBytes([]int16{100, -100, 200, -200})
	wav := audio.EncodeWAV(pcm, 22050, 2)

	f, got, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 22050 || f.Channels != 2 {
		t.Errorf("format = %+v, want {22050 2}", f)
	}
	if string(got) != string(pcm) {
		t.Error("PCM payload not recovered")
	}
}

func TestDecodeWAV_SkipsExtraChunks(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	// Splice a LIST chunk between fmt and data, the way some synthesis
	// servers do.
	list := append([]byte("LIST"), 4, 0, 0, 0, 'I', 'N', 'F', 'O')
	padded := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
	binary.LittleEndian.PutUint32(padded[4:8], uint32(len(padded)-8))

	f, got, err := audio.DecodeWAV(padded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("format = %+v, want {16000 1}", f)
	}
	if string(got) != string(pcm) {
		t.Error("PCM payload not recovered past the LIST chunk")
	}
}

func TestDecodeWAV_Malformed(t *testing.T) {
	tests := []struct {
		name string
		wav  []byte
	}{
		{"too short", []byte{0x01, 0x02}},
		{"not RIFF", append([]byte("XXXX"), make([]byte, 40)...)},
		{"not WAVE", append([]byte("RIFF\x00\x00\x00\x00XXXX"), make([]byte, 32)...)},
		{"no data chunk", audio.EncodeWAV(nil, 16000, 1)[:36]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := audio.DecodeWAV(tt.wav); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
