// Package journal writes the session transcript to the archive without ever
// blocking the live path.
//
// All writes funnel through one buffered channel drained by a single
// goroutine, so archive latency (or an archive outage) costs the session
// nothing: when the buffer is full the entry is dropped and counted. The
// journal owns the per-session entry index — callers never set EntryIndex.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/hotseat/internal/event"
	"github.com/MrWong99/hotseat/pkg/archive"
)

const (
	// bufferCap bounds pending writes; overflow drops.
	bufferCap = 512

	// writeTimeout bounds each archive call so one stuck write cannot
	// stall the drain goroutine forever.
	writeTimeout = 5 * time.Second
)

// envelope carries exactly one pending write.
type envelope struct {
	entry    *archive.Entry
	exchange *archive.ExchangeRecord
}

// Journal is a fire-and-forget archive writer for one session. It is safe
// for concurrent use.
type Journal struct {
	log       archive.Log
	sessionID string

	mu     sync.RWMutex
	closed bool

	buf  chan envelope
	done chan struct{}

	index   atomic.Int64
	written atomic.Uint64
	dropped atomic.Uint64
}

// New starts a journal for sessionID writing to log.
func New(log archive.Log, sessionID string) *Journal {
	j := &Journal{
		log:       log,
		sessionID: sessionID,
		buf:       make(chan envelope, bufferCap),
		done:      make(chan struct{}),
	}
	go j.run()
	return j
}

// Record queues one transcript entry. The journal fills in SessionID and the
// next EntryIndex. Record never blocks: a full buffer drops the entry.
func (j *Journal) Record(e archive.Entry) {
	e.SessionID = j.sessionID
	e.EntryIndex = j.index.Add(1) - 1
	j.enqueue(envelope{entry: &e})
}

// RecordExchange queues one resolved exchange record. The journal fills in
// SessionID.
func (j *Journal) RecordExchange(rec archive.ExchangeRecord) {
	rec.SessionID = j.sessionID
	j.enqueue(envelope{exchange: &rec})
}

func (j *Journal) enqueue(env envelope) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.buf <- env:
	default:
		j.dropped.Add(1)
		slog.Warn("journal: buffer full, write dropped", "session", j.sessionID)
	}
}

// Attach subscribes the journal to the bus so presenter speech is archived
// as presentation entries. Returns the unsubscribe function.
func (j *Journal) Attach(bus *event.Bus) func() {
	return bus.Subscribe(event.TranscriptUpdate, func(ev event.Event) {
		data, ok := ev.Data.(event.TranscriptData)
		if !ok {
			return
		}
		seg := data.Segment
		j.Record(archive.Entry{
			Speaker:    archive.SpeakerPresenter,
			Text:       seg.Text,
			StartTime:  seg.Start.Seconds(),
			EndTime:    seg.End.Seconds(),
			SlideIndex: seg.SlideIndex,
			EntryType:  archive.EntryPresentation,
		})
	})
}

// Written returns how many writes reached the archive.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Dropped returns how many writes were dropped on overflow.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Close stops accepting writes, drains the buffer to the archive and
// returns. Close is idempotent.
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.mu.Unlock()

	close(j.buf)
	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)
	for env := range j.buf {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		var err error
		switch {
		case env.entry != nil:
			err = j.log.WriteEntry(ctx, *env.entry)
		case env.exchange != nil:
			err = j.log.WriteExchange(ctx, *env.exchange)
		}
		cancel()
		if err != nil {
			slog.Warn("journal: archive write failed", "session", j.sessionID, "error", err)
			continue
		}
		j.written.Add(1)
	}
}
