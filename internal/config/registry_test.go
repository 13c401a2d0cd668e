package config_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/hotseat/internal/config"
	"github.com/MrWong99/hotseat/pkg/provider/llm"
	llmmock "github.com/MrWong99/hotseat/pkg/provider/llm/mock"
	"github.com/MrWong99/hotseat/pkg/provider/stt"
	"github.com/MrWong99/hotseat/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hotseat/pkg/provider/tts/mock"
)

func TestRegistryCreateUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("CreateLLM() error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("CreateSTT() error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateEmbeddings(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("CreateEmbeddings() error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryCreatePassesEntry(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var got config.ProviderEntry
	reg.RegisterLLM("fake", func(entry config.ProviderEntry) (llm.Provider, error) {
		got = entry
		return &llmmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "fake", APIKey: "sk-test", Model: "fake-1"}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		t.Fatalf("CreateLLM() error = %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM() returned nil provider")
	}
	if got.APIKey != "sk-test" || got.Model != "fake-1" {
		t.Errorf("factory received entry %+v, want APIKey and Model forwarded", got)
	}
}

func TestRegistryBuildSkipsUnregistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	built, err := reg.BuildTTS([]config.ProviderEntry{
		{Name: "fake"},
		{Name: "nonexistent"},
		{Name: "fake"},
	})
	if err != nil {
		t.Fatalf("BuildTTS() error = %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("BuildTTS() returned %d providers, want 2", len(built))
	}
}

func TestRegistryBuildAbortsOnFactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	factoryErr := errors.New("bad credentials")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, factoryErr
	})

	_, err := reg.BuildSTT([]config.ProviderEntry{{Name: "broken"}})
	if !errors.Is(err, factoryErr) {
		t.Fatalf("BuildSTT() error = %v, want factory error", err)
	}
}

func TestRegistryOverwriteKeepsLatest(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	first := &llmmock.Provider{}
	second := &llmmock.Provider{}
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return first, nil })
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return second, nil })

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "fake"})
	if err != nil {
		t.Fatalf("CreateLLM() error = %v", err)
	}
	if p != second {
		t.Error("CreateLLM() should use the most recent registration")
	}
}
