package elevenlabs

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeTextFrame_FirstFragmentCarriesSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.4, SimilarityBoost: 0.9}
	data, err := encodeTextFrame("The floor goes to the CFO.", vs)
	if err != nil {
		t.Fatalf("encodeTextFrame: %v", err)
	}

	var frame textFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Text != "The floor goes to the CFO." {
		t.Errorf("text = %q", frame.Text)
	}
	if frame.VoiceSettings == nil {
		t.Fatal("voice settings missing from first frame")
	}
	if frame.VoiceSettings.Stability != 0.4 || frame.VoiceSettings.SimilarityBoost != 0.9 {
		t.Errorf("voice settings = %+v, want stability 0.4 / similarity 0.9", frame.VoiceSettings)
	}
}

func TestEncodeTextFrame_LaterFragmentsOmitSettings(t *testing.T) {
	data, err := encodeTextFrame("Margins held at forty percent.", nil)
	if err != nil {
		t.Fatalf("encodeTextFrame: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if _, present := raw["voice_settings"]; present {
		t.Error("voice_settings should be omitted after the first fragment")
	}
}

func TestEncodeTextFrame_Flush(t *testing.T) {
	// The flush frame is exactly {"text":""}.
	data, err := encodeTextFrame("", nil)
	if err != nil {
		t.Fatalf("encodeTextFrame: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush frame: %v", err)
	}
	if len(raw) != 1 {
		t.Errorf("flush frame has %d fields %v, want only text", len(raw), raw)
	}
	if string(raw["text"]) != `""` {
		t.Errorf("flush text = %s, want empty string", raw["text"])
	}
}

func TestStreamURL(t *testing.T) {
	url := streamURL("pNInz6obpgDQGcFmaJgB", "eleven_multilingual_v2")
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("stream URL is not a WebSocket URL: %s", url)
	}
	if !strings.Contains(url, "/text-to-speech/pNInz6obpgDQGcFmaJgB/stream-input") {
		t.Errorf("stream URL missing voice path segment: %s", url)
	}
	if !strings.Contains(url, "model_id=eleven_multilingual_v2") {
		t.Errorf("stream URL missing model parameter: %s", url)
	}
}

func TestDecodeVoiceList(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "JBFqnCBsd6RMkjVDRZzb",
				"name": "George",
				"category": "premade",
				"labels": {"accent": "british", "gender": "male"}
			},
			{
				"voice_id": "Xb7hH8MSUJpSbSDYk0k2",
				"name": "Alice",
				"category": "cloned",
				"labels": {"accent": "american"}
			}
		]
	}`)

	profiles, err := decodeVoiceList(raw)
	if err != nil {
		t.Fatalf("decodeVoiceList: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}

	george := profiles[0]
	if george.ID != "JBFqnCBsd6RMkjVDRZzb" || george.Name != "George" {
		t.Errorf("first profile = %+v", george)
	}
	if george.Provider != "elevenlabs" {
		t.Errorf("provider = %q, want elevenlabs", george.Provider)
	}
	if george.Metadata["accent"] != "british" || george.Metadata["gender"] != "male" {
		t.Errorf("labels not copied into metadata: %v", george.Metadata)
	}
	if george.Metadata["category"] != "premade" {
		t.Errorf("category = %q, want premade", george.Metadata["category"])
	}
	if profiles[1].Metadata["category"] != "cloned" {
		t.Errorf("second profile category = %q, want cloned", profiles[1].Metadata["category"])
	}
}

func TestDecodeVoiceList_EmptyCatalogue(t *testing.T) {
	profiles, err := decodeVoiceList([]byte(`{"voices":[]}`))
	if err != nil {
		t.Fatalf("decodeVoiceList: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("got %d profiles from an empty catalogue", len(profiles))
	}
}

func TestDecodeVoiceList_Malformed(t *testing.T) {
	if _, err := decodeVoiceList([]byte(`{"voices": [`)); err == nil {
		t.Error("truncated JSON should fail to decode")
	}
}

func TestDecodeVoiceList_NoCategoryOrLabels(t *testing.T) {
	raw := []byte(`{"voices": [{"voice_id": "v0", "name": "Narrator", "category": "", "labels": null}]}`)
	profiles, err := decodeVoiceList(raw)
	if err != nil {
		t.Fatalf("decodeVoiceList: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("got %d profiles, want 1", len(profiles))
	}
	if _, present := profiles[0].Metadata["category"]; present {
		t.Error("empty category must not produce a metadata key")
	}
	if len(profiles[0].Metadata) != 0 {
		t.Errorf("metadata = %v, want empty", profiles[0].Metadata)
	}
}

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should return an error")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("xi-test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("model = %q, want %q", p.model, defaultModel)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("outputFormat = %q, want %q", p.outputFormat, defaultOutputFmt)
	}
	if p.stability != defaultStability || p.similarity != defaultSimilarity {
		t.Errorf("voice settings = %v/%v, want defaults %v/%v",
			p.stability, p.similarity, defaultStability, defaultSimilarity)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("xi-test-key",
		WithModel("eleven_multilingual_v2"),
		WithOutputFormat("pcm_24000"),
		WithVoiceSettings(0.8, 0.3),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("model = %q", p.model)
	}
	if p.outputFormat != "pcm_24000" {
		t.Errorf("outputFormat = %q", p.outputFormat)
	}
	if p.stability != 0.8 || p.similarity != 0.3 {
		t.Errorf("voice settings = %v/%v, want 0.8/0.3", p.stability, p.similarity)
	}
}
