// Package sqlite is a history.Sink backed by modernc.org/sqlite, grounded
// on the teacher's internal/history/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/askucher/pmc/internal/history"
)

// Sink writes lifecycle events to a SQLite database, one row per event.
type Sink struct {
	db *sql.DB
}

// New opens (creating if absent) a SQLite database at dsn and ensures its
// schema. dsn accepts a bare filepath or ":memory:", same as the teacher's
// sqlite history sink.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite dsn")
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS process_history(
		occurred_at TIMESTAMP NOT NULL,
		process_name TEXT NOT NULL,
		kind TEXT NOT NULL
	);`)
	return err
}

// Record inserts e. A write failure only logs — a history sink is never on
// the correctness path of the Process Table (spec DOMAIN STACK).
func (s *Sink) Record(e history.Event) {
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO process_history(occurred_at, process_name, kind) VALUES(?, ?, ?);`,
		e.At.UTC(), e.ProcessName, string(e.Kind))
	if err != nil {
		slog.Warn("sqlite history sink: write failed", "error", err)
	}
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
