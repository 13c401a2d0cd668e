package whisper

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/hotseat/pkg/provider/stt"
)

// sinePCM returns `samples` 16-bit samples of a loud 440 Hz tone, well above
// the room-noise cutoff.
func sinePCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// zeroPCM returns `samples` zero-valued 16-bit samples.
func zeroPCM(samples int) []byte {
	return make([]byte, samples*2)
}

func TestUtteranceBuffer_DropsLeadingSilence(t *testing.T) {
	b := newUtteranceBuffer(16000, 1, 100, 10_000)

	if cut := b.push(zeroPCM(1600)); cut {
		t.Error("push(silence) before any speech should not cut")
	}
	if pcm := b.take(); pcm != nil {
		t.Errorf("take() after silence-only input = %d bytes; want nil", len(pcm))
	}
}

func TestUtteranceBuffer_PauseCutsUtterance(t *testing.T) {
	b := newUtteranceBuffer(16000, 1, 100, 10_000)

	if cut := b.push(sinePCM(1600)); cut {
		t.Error("push(speech) should not cut before any pause")
	}
	// 100 ms of silence reaches the pause threshold.
	if cut := b.push(zeroPCM(1600)); !cut {
		t.Fatal("push(silence) at the pause threshold should cut")
	}

	pcm := b.take()
	if len(pcm) != 6400 {
		t.Errorf("take() = %d bytes; want 6400 (speech + trailing silence)", len(pcm))
	}
}

func TestUtteranceBuffer_SpeechResetsQuietTime(t *testing.T) {
	b := newUtteranceBuffer(16000, 1, 100, 10_000)

	b.push(sinePCM(1600))
	if cut := b.push(zeroPCM(800)); cut { // 50 ms quiet
		t.Fatal("cut after 50 ms of a 100 ms pause threshold")
	}
	b.push(sinePCM(1600)) // speaking again resets the quiet clock
	if cut := b.push(zeroPCM(800)); cut {
		t.Fatal("cut after 50 ms quiet following resumed speech")
	}
	if cut := b.push(zeroPCM(800)); !cut { // now 100 ms quiet
		t.Fatal("expected cut once quiet time reached the threshold")
	}
}

func TestUtteranceBuffer_MaxBytesForcesCut(t *testing.T) {
	// 100 ms cap at 16 kHz mono = 3200 bytes.
	b := newUtteranceBuffer(16000, 1, 10_000, 100)

	if cut := b.push(sinePCM(1600)); !cut {
		t.Error("continuous speech past the cap should force a cut")
	}
}

func TestUtteranceBuffer_TakeResets(t *testing.T) {
	b := newUtteranceBuffer(16000, 1, 100, 10_000)

	b.push(sinePCM(1600))
	b.push(zeroPCM(1600))
	if pcm := b.take(); pcm == nil {
		t.Fatal("take() returned nil for a voiced buffer")
	}

	// Fresh turn: silence is leading noise again.
	if cut := b.push(zeroPCM(1600)); cut {
		t.Error("push(silence) after take() should not cut")
	}
	if pcm := b.take(); pcm != nil {
		t.Error("take() after reset with no speech should return nil")
	}
}

func TestPcmDuration(t *testing.T) {
	tests := []struct {
		name       string
		bytes      int
		sampleRate int
		channels   int
		want       time.Duration
	}{
		{"mono 100ms", 3200, 16000, 1, 100 * time.Millisecond},
		{"stereo 100ms", 6400, 16000, 2, 100 * time.Millisecond},
		{"one second", 32000, 16000, 1, time.Second},
		{"zero rate", 3200, 0, 1, 0},
		{"zero channels", 3200, 16000, 0, 0},
		{"empty", 0, 16000, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pcmDuration(make([]byte, tt.bytes), tt.sampleRate, tt.channels)
			if got != tt.want {
				t.Errorf("pcmDuration(%d bytes, %d Hz, %d ch) = %v; want %v",
					tt.bytes, tt.sampleRate, tt.channels, got, tt.want)
			}
		})
	}
}

func TestResolveStream_Defaults(t *testing.T) {
	sr, ch, lang := resolveStream(stt.StreamConfig{}, 16000, "en")
	if sr != 16000 || ch != 1 || lang != "en" {
		t.Errorf("resolveStream(zero cfg) = (%d, %d, %q); want (16000, 1, \"en\")", sr, ch, lang)
	}
}

func TestResolveStream_Overrides(t *testing.T) {
	cfg := stt.StreamConfig{SampleRate: 48000, Channels: 2, Language: "de"}
	sr, ch, lang := resolveStream(cfg, 16000, "en")
	if sr != 48000 || ch != 2 || lang != "de" {
		t.Errorf("resolveStream(cfg) = (%d, %d, %q); want (48000, 2, \"de\")", sr, ch, lang)
	}
}
