package resilience

import (
	"context"

	"github.com/MrWong99/hotseat/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across an
// ordered list of transcription backends. Failover covers stream
// establishment: the presenter gate reconnects through the chain whenever a
// session drops, so a recovered primary is picked up again on the next
// reconnect once its breaker closes.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers a backup STT provider. Backups are tried in the order
// they are added.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a transcription session on the first healthy backend.
// Once a handle is returned, errors on the established stream are the
// caller's to handle; the gate's reconnect loop routes them back through the
// chain.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
