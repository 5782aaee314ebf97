package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/dataguard/internal/platform/sqldb"
)

type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Record is one completed, write-once audit entry.
type Record struct {
	EntityType      string         `json:"entity_type"`
	EntityID        string         `json:"entity_id"`
	ActorID         string         `json:"actor_id"`
	TenantID        string         `json:"tenant_id,omitempty"`
	Operation       Operation      `json:"operation"`
	Timestamp       time.Time      `json:"timestamp"`
	Version         int64          `json:"version"`
	Before          map[string]any `json:"before,omitempty"`
	After           map[string]any `json:"after,omitempty"`
	Changes         []Change       `json:"changes"`
	Summary         string         `json:"summary"`
	SessionID       string         `json:"session_id,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	IntegritySHA256 string         `json:"integrity_sha256"`
}

// ComputeIntegritySHA256 hashes the canonical form of every field of r
// except the hash itself.
func ComputeIntegritySHA256(r Record) (string, error) {
	r.IntegritySHA256 = ""
	r.Timestamp = r.Timestamp.UTC()
	blob, err := Canonical(r)
	if err != nil {
		return "", fmt.Errorf("integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Mirror persists completed records outside the log streams.
type Mirror interface {
	Insert(ctx context.Context, r Record) error
}

// SQLMirror appends records to the entity_audit table.
type SQLMirror struct {
	db      DB
	dialect sqldb.Dialect
}

func NewSQLMirror(db DB, dialect sqldb.Dialect) (*SQLMirror, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &SQLMirror{db: db, dialect: dialect}, nil
}

func (m *SQLMirror) EnsureSchema(ctx context.Context) error {
	idColumn := "audit_id BIGSERIAL PRIMARY KEY"
	if m.dialect == sqldb.SQLite {
		idColumn = "audit_id INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	_, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entity_audit (
		`+idColumn+`,
		occurred_at TIMESTAMP NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		operation TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		tenant_id TEXT,
		session_id TEXT,
		reason TEXT,
		summary TEXT NOT NULL,
		changes TEXT NOT NULL,
		before_snapshot TEXT,
		after_snapshot TEXT,
		integrity_sha256 TEXT NOT NULL,
		UNIQUE (entity_type, entity_id, version)
	)`)
	if err != nil {
		return fmt.Errorf("create entity_audit: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(blob), Valid: true}, nil
}

func (m *SQLMirror) Insert(ctx context.Context, r Record) error {
	changes, err := json.Marshal(r.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	before, err := nullJSON(r.Before)
	if err != nil {
		return fmt.Errorf("marshal before: %w", err)
	}
	after, err := nullJSON(r.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}

	ph := make([]any, 14)
	for i := range ph {
		ph[i] = m.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf(`INSERT INTO entity_audit (
			occurred_at,
			entity_type,
			entity_id,
			version,
			operation,
			actor_id,
			tenant_id,
			session_id,
			reason,
			summary,
			changes,
			before_snapshot,
			after_snapshot,
			integrity_sha256
		) VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`, ph...)

	_, err = m.db.ExecContext(ctx, query,
		r.Timestamp.UTC(),
		r.EntityType,
		r.EntityID,
		r.Version,
		string(r.Operation),
		r.ActorID,
		nullString(r.TenantID),
		nullString(r.SessionID),
		nullString(r.Reason),
		r.Summary,
		string(changes),
		before,
		after,
		r.IntegritySHA256,
	)
	if err != nil {
		return fmt.Errorf("insert entity audit: %w", err)
	}
	return nil
}
