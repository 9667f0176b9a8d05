// Package audit implements the append-only issuer/revocation admin action log of spec §2
// ("Audit log ... Append-only record of issuer/revocation actions").
//
// Grounded on certenIO-certen-validator/pkg/database/repository_attestation.go's
// insert-then-list, UUID-keyed append-only repository shape. A Postgres-backed Log writes
// through github.com/lib/pq, the same driver pkg/revocation/indexed already requires; an
// in-memory ring buffer (RingLog) serves tests and single-process deployments that haven't
// configured a database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// Action identifies the kind of administrative action recorded.
type Action string

const (
	ActionIssuerUpsert      Action = "issuer_upsert"
	ActionIssuerRevoke      Action = "issuer_revoke"
	ActionRevocationAdd     Action = "revocation_add"
	ActionRevocationRemove  Action = "revocation_remove"
)

// Entry is one append-only audit record.
type Entry struct {
	ID        uuid.UUID
	Action    Action
	Actor     string
	Target    string // issuer name or commitment, depending on Action
	Detail    string
	CreatedAt time.Time
}

// Recorder is satisfied by both Log (Postgres-backed) and RingLog (in-memory).
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// RingLog is an in-memory, fixed-capacity append-only log: once full, the oldest entry is
// evicted to make room for the newest, matching spec §6's bound-memory ambient-telemetry
// expectation for deployments without a configured database.
type RingLog struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry // oldest first
}

// NewRingLog creates an in-memory log retaining up to capacity entries.
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = 1024
	}
	return &RingLog{capacity: capacity}
}

// Record appends e, assigning ID and CreatedAt if unset.
func (l *RingLog) Record(_ context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	return nil
}

// Recent returns the most recent up-to-limit entries, newest first.
func (l *RingLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[n-1-i]
	}
	return out, nil
}

// Log is a Postgres-backed audit trail.
type Log struct {
	db *sql.DB
}

// OpenLog connects to databaseURL, creates the audit_log table if it does not already
// exist, and returns a Postgres-backed Log.
func OpenLog(ctx context.Context, databaseURL string) (*Log, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ensure table: %w", err)
	}
	return &Log{db: db}, nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
    id          UUID PRIMARY KEY,
    action      TEXT NOT NULL,
    actor       TEXT NOT NULL,
    target      TEXT NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL
)`

// Close releases the underlying database connection.
func (l *Log) Close() error { return l.db.Close() }

// Record inserts e, assigning ID and CreatedAt if unset. Never updates or deletes an
// existing row -- the log is append-only by construction.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, actor, target, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, string(e.Action), e.Actor, e.Target, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

// Recent returns the most recent up-to-limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, action, actor, target, detail, created_at FROM audit_log ORDER BY created_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(&e.ID, &action, &e.Actor, &e.Target, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: recent: scan: %w", err)
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
