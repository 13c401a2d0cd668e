package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/hotseat/pkg/archive"
)

// LogImpl is the transcript log backed by the session_entries and exchanges
// tables.
//
// Obtain one via [Store.Log] rather than constructing directly.
// All methods are safe for concurrent use.
type LogImpl struct {
	pool *pgxpool.Pool
}

// WriteEntry implements [archive.Log]. It upserts entry keyed by
// (session_id, entry_index), so re-delivered entries overwrite rather than
// duplicate.
func (l *LogImpl) WriteEntry(ctx context.Context, entry archive.Entry) error {
	const q = `
		INSERT INTO session_entries
		    (session_id, entry_index, speaker, speaker_name, agent_role, text,
		     start_time, end_time, slide_index, entry_type, trigger_claim, audio_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id, entry_index) DO UPDATE SET
		    speaker       = EXCLUDED.speaker,
		    speaker_name  = EXCLUDED.speaker_name,
		    agent_role    = EXCLUDED.agent_role,
		    text          = EXCLUDED.text,
		    start_time    = EXCLUDED.start_time,
		    end_time      = EXCLUDED.end_time,
		    slide_index   = EXCLUDED.slide_index,
		    entry_type    = EXCLUDED.entry_type,
		    trigger_claim = EXCLUDED.trigger_claim,
		    audio_key     = EXCLUDED.audio_key`

	_, err := l.pool.Exec(ctx, q,
		entry.SessionID,
		entry.EntryIndex,
		entry.Speaker,
		entry.SpeakerName,
		entry.AgentRole,
		entry.Text,
		entry.StartTime,
		entry.EndTime,
		entry.SlideIndex,
		entry.EntryType,
		entry.TriggerClaim,
		entry.AudioKey,
	)
	if err != nil {
		return fmt.Errorf("archive log: write entry: %w", err)
	}
	return nil
}

// WriteExchange implements [archive.Log]. It upserts the exchange record keyed
// by exchange_id; the turn list is stored as JSONB.
func (l *LogImpl) WriteExchange(ctx context.Context, rec archive.ExchangeRecord) error {
	turns := rec.Turns
	if turns == nil {
		turns = []archive.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("archive log: marshal turns: %w", err)
	}

	const q = `
		INSERT INTO exchanges
		    (exchange_id, session_id, agent_id, agent_name, trigger_claim,
		     outcome, slide_index, turns, started_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (exchange_id) DO UPDATE SET
		    session_id    = EXCLUDED.session_id,
		    agent_id      = EXCLUDED.agent_id,
		    agent_name    = EXCLUDED.agent_name,
		    trigger_claim = EXCLUDED.trigger_claim,
		    outcome       = EXCLUDED.outcome,
		    slide_index   = EXCLUDED.slide_index,
		    turns         = EXCLUDED.turns,
		    started_at    = EXCLUDED.started_at,
		    resolved_at   = EXCLUDED.resolved_at`

	_, err = l.pool.Exec(ctx, q,
		rec.ExchangeID,
		rec.SessionID,
		rec.AgentID,
		rec.AgentName,
		rec.TriggerClaim,
		rec.Outcome,
		rec.SlideIndex,
		turnsJSON,
		rec.StartedAt,
		rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("archive log: write exchange: %w", err)
	}
	return nil
}

// EntriesBySession implements [archive.Log]. It returns all entries for
// sessionID ordered by entry index (oldest first).
func (l *LogImpl) EntriesBySession(ctx context.Context, sessionID string) ([]archive.Entry, error) {
	const q = `
		SELECT session_id, entry_index, speaker, speaker_name, agent_role, text,
		       start_time, end_time, slide_index, entry_type, trigger_claim, audio_key
		FROM   session_entries
		WHERE  session_id = $1
		ORDER  BY entry_index`

	rows, err := l.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive log: entries by session: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entry, error) {
		var e archive.Entry
		if err := row.Scan(
			&e.SessionID,
			&e.EntryIndex,
			&e.Speaker,
			&e.SpeakerName,
			&e.AgentRole,
			&e.Text,
			&e.StartTime,
			&e.EndTime,
			&e.SlideIndex,
			&e.EntryType,
			&e.TriggerClaim,
			&e.AudioKey,
		); err != nil {
			return archive.Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive log: scan rows: %w", err)
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return entries, nil
}
