// Package store is the optional durable audit trail: sealed Recordings
// and Event state transitions written to Postgres, so operators can query
// history after the daemon restarts. A daemon run without a database URL
// falls back to an in-memory sink with the same interface.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/unblink/camerad/bus"
	"github.com/unblink/camerad/recorder"
)

// Sink records transitions and recordings. Both concrete implementations
// (Postgres, in-memory) satisfy it.
type Sink interface {
	RecordTransition(ctx context.Context, camera, status string, at time.Time) error
	RecordRecording(ctx context.Context, camera, clipPath, thumbnailPath, triggerKind string, start, end time.Time) error
	Close() error
}

// Config points at an optional Postgres instance.
type Config struct {
	DatabaseURL string // empty disables Postgres; New falls back to an in-memory Sink
}

// New opens a Postgres-backed Sink when cfg.DatabaseURL is set, creating
// its schema if needed, or an in-memory Sink otherwise.
func New(cfg Config) (Sink, error) {
	if cfg.DatabaseURL == "" {
		return NewMemorySink(), nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}

	s := &PostgresSink{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// PostgresSink persists transitions and recordings to Postgres via pgx's
// database/sql driver.
type PostgresSink struct {
	db *sql.DB
}

const createTransitionsTableSQL = `
	CREATE TABLE IF NOT EXISTS event_transitions (
		id BIGSERIAL PRIMARY KEY,
		camera TEXT NOT NULL,
		status TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_transitions_camera ON event_transitions(camera);
`

const createRecordingsTableSQL = `
	CREATE TABLE IF NOT EXISTS recordings (
		id BIGSERIAL PRIMARY KEY,
		camera TEXT NOT NULL,
		clip_path TEXT NOT NULL,
		thumbnail_path TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_camera ON recordings(camera);
`

// createSchema creates the audit tables if they don't already exist,
// transitions before recordings since nothing references a foreign key
// across them today but a future join would read better in this order.
func (s *PostgresSink) createSchema() error {
	if _, err := s.db.Exec(createTransitionsTableSQL); err != nil {
		return fmt.Errorf("store: creating event_transitions table: %w", err)
	}
	if _, err := s.db.Exec(createRecordingsTableSQL); err != nil {
		return fmt.Errorf("store: creating recordings table: %w", err)
	}
	return nil
}

// RecordTransition inserts one Event state machine status observation.
func (s *PostgresSink) RecordTransition(ctx context.Context, camera, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_transitions (camera, status, occurred_at) VALUES ($1, $2, $3)`,
		camera, status, at.UTC())
	if err != nil {
		return fmt.Errorf("store: recording transition: %w", err)
	}
	return nil
}

// RecordRecording inserts one sealed Recording.
func (s *PostgresSink) RecordRecording(ctx context.Context, camera, clipPath, thumbnailPath, triggerKind string, start, end time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (camera, clip_path, thumbnail_path, trigger_kind, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		camera, clipPath, thumbnailPath, triggerKind, start.UTC(), end.UTC())
	if err != nil {
		return fmt.Errorf("store: recording clip: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresSink) Close() error { return s.db.Close() }

// transitionRecord and recordingRecord are MemorySink's in-memory rows.
type transitionRecord struct {
	Camera   string
	Status   string
	Occurred time.Time
}

type recordingRecord struct {
	Camera        string
	ClipPath      string
	ThumbnailPath string
	TriggerKind   string
	Start, End    time.Time
}

// MemorySink is the no-database fallback, used when the daemon has no
// DATABASE_URL configured.
type MemorySink struct {
	mu          sync.Mutex
	transitions []transitionRecord
	recordings  []recordingRecord
}

// NewMemorySink builds an empty in-memory Sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) RecordTransition(_ context.Context, camera, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, transitionRecord{Camera: camera, Status: status, Occurred: at})
	return nil
}

func (m *MemorySink) RecordRecording(_ context.Context, camera, clipPath, thumbnailPath, triggerKind string, start, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings = append(m.recordings, recordingRecord{
		Camera: camera, ClipPath: clipPath, ThumbnailPath: thumbnailPath,
		TriggerKind: triggerKind, Start: start, End: end,
	})
	return nil
}

func (m *MemorySink) Close() error { return nil }

// Transitions returns a snapshot of every recorded transition, for tests.
func (m *MemorySink) Transitions() []transitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transitionRecord, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// Recordings returns a snapshot of every recorded clip, for tests.
func (m *MemorySink) Recordings() []recordingRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]recordingRecord, len(m.recordings))
	copy(out, m.recordings)
	return out
}

// Attach subscribes sink to every camera's status and recording topics on
// b, persisting each asynchronously so a slow database write never blocks
// the bus dispatch loop.
func Attach(b *bus.Bus, sink Sink, logger interface{ Printf(string, ...interface{}) }) error {
	if _, err := b.Subscribe("status.*", func(msg bus.Message) {
		status, ok := msg.Data.(string)
		if !ok {
			return
		}
		camera := cameraFromTopic(msg.Topic)
		go func() {
			if err := sink.RecordTransition(context.Background(), camera, status, time.Now()); err != nil {
				logger.Printf("store: %v", err)
			}
		}()
	}); err != nil {
		return err
	}

	_, err := b.Subscribe("recording.*", func(msg bus.Message) {
		rec, ok := msg.Data.(*recorder.Recording)
		if !ok {
			return
		}
		camera := cameraFromTopic(msg.Topic)
		go func() {
			if err := sink.RecordRecording(context.Background(), camera, rec.ClipPath, rec.ThumbnailPath, rec.TriggerKind, rec.StartTime, rec.EndTime); err != nil {
				logger.Printf("store: %v", err)
			}
		}()
	})
	return err
}

func cameraFromTopic(topic string) string {
	for i := 0; i < len(topic); i++ {
		if topic[i] == '.' {
			return topic[i+1:]
		}
	}
	return topic
}
