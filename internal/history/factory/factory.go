// Package factory selects a history.Sink implementation from a DSN string,
// grounded on the teacher's internal/store/factory.
package factory

import (
	"strings"

	"github.com/askucher/pmc/internal/history"
	"github.com/askucher/pmc/internal/history/postgres"
	"github.com/askucher/pmc/internal/history/sqlite"
)

// NewFromDSN returns a history.Sink for dsn: postgres(ql):// selects the
// Postgres backend, everything else (including a bare filepath or
// ":memory:") selects SQLite. An empty dsn returns history.NoopSink with no
// error, since history is an optional add-on.
func NewFromDSN(dsn string) (history.Sink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return history.NoopSink{}, nil
	}
	ld := strings.ToLower(d)
	switch {
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		return postgres.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		return sqlite.New(strings.TrimPrefix(d, "sqlite://"))
	default:
		return sqlite.New(d)
	}
}
