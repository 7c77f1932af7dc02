// Package sqlite persists the dispatch ledger so the at-most-once guarantee
// survives a restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_ledger (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL,
	incident_id   TEXT NOT NULL UNIQUE,
	dispatched_at TEXT NOT NULL,
	action        TEXT NOT NULL,
	channels      TEXT NOT NULL DEFAULT '[]'
);`

// Ledger implements dispatch.Ledger on SQLite. The UNIQUE constraint on
// incident_id is what enforces one entry per incident.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Append inserts rec unless the incident already has an entry.
func (l *Ledger) Append(ctx context.Context, rec domain.AlertDispatchRecord) (bool, error) {
	channels, err := json.Marshal(nonNil(rec.Channels))
	if err != nil {
		return false, fmt.Errorf("marshal channels: %w", err)
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dispatch_ledger (id, incident_id, dispatched_at, action, channels)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.IncidentID, rec.DispatchedAt.UTC().Format(time.RFC3339Nano), rec.Action, string(channels))
	if err != nil {
		return false, fmt.Errorf("insert dispatch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Has reports whether the incident has an entry.
func (l *Ledger) Has(ctx context.Context, incidentID string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatch_ledger WHERE incident_id = ?`, incidentID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("query dispatch: %w", err)
	}
	return true, nil
}

// List returns every entry in insertion order.
func (l *Ledger) List(ctx context.Context) ([]domain.AlertDispatchRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, incident_id, dispatched_at, action, channels FROM dispatch_ledger ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertDispatchRecord
	for rows.Next() {
		var (
			rec          domain.AlertDispatchRecord
			dispatchedAt string
			channels     string
		)
		if err := rows.Scan(&rec.ID, &rec.IncidentID, &dispatchedAt, &rec.Action, &channels); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		if rec.DispatchedAt, err = time.Parse(time.RFC3339Nano, dispatchedAt); err != nil {
			return nil, fmt.Errorf("parse dispatched_at for %s: %w", rec.IncidentID, err)
		}
		if err := json.Unmarshal([]byte(channels), &rec.Channels); err != nil {
			return nil, fmt.Errorf("decode channels for %s: %w", rec.IncidentID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks the database for readiness probes.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
