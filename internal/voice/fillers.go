package voice

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Fillers is the library of pre-recorded thinking clips ("Hmm, let me look
// at that...") discovered under media/fillers/<agent>/*.wav at startup.
type Fillers struct {
	byAgent map[string][]string
}

// ScanFillers walks mediaDir/fillers and builds the per-agent URL map. A
// missing fillers directory yields an empty library.
func ScanFillers(mediaDir string) (*Fillers, error) {
	f := &Fillers{byAgent: make(map[string][]string)}

	root := filepath.Join(mediaDir, "fillers")
	agents, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("voice: scan fillers: %w", err)
	}

	for _, agent := range agents {
		if !agent.IsDir() {
			continue
		}
		clips, err := os.ReadDir(filepath.Join(root, agent.Name()))
		if err != nil {
			return nil, fmt.Errorf("voice: scan fillers for %s: %w", agent.Name(), err)
		}
		for _, clip := range clips {
			if clip.IsDir() || !strings.HasSuffix(clip.Name(), ".wav") {
				continue
			}
			url := path.Join(filesPrefix, "fillers", agent.Name(), clip.Name())
			f.byAgent[agent.Name()] = append(f.byAgent[agent.Name()], url)
		}
	}
	return f, nil
}

// Random returns a random filler URL for the agent, or false when the agent
// has no clips.
func (f *Fillers) Random(agentID string) (string, bool) {
	clips := f.byAgent[agentID]
	if len(clips) == 0 {
		return "", false
	}
	return clips[rand.IntN(len(clips))], true
}

// All returns a copy of the full agent → URLs map for the filler_urls
// announcement at session start.
func (f *Fillers) All() map[string][]string {
	out := make(map[string][]string, len(f.byAgent))
	for id, urls := range f.byAgent {
		out[id] = append([]string(nil), urls...)
	}
	return out
}
