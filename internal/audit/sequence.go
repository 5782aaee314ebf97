package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/animus-labs/dataguard/internal/platform/sqldb"
)

// Sequencer hands out strictly increasing version numbers per entity.
type Sequencer interface {
	Next(ctx context.Context, entityType, entityID string) (int64, error)
}

type MemorySequencer struct {
	mu       sync.Mutex
	versions map[string]int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{versions: make(map[string]int64)}
}

func (m *MemorySequencer) Next(_ context.Context, entityType, entityID string) (int64, error) {
	key := entityType + "\x00" + entityID
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[key]++
	return m.versions[key], nil
}

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLSequencer keeps the counters in the entity_versions table so versions
// survive restarts and are shared between processes.
type SQLSequencer struct {
	db      DB
	dialect sqldb.Dialect
}

func NewSQLSequencer(db DB, dialect sqldb.Dialect) (*SQLSequencer, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &SQLSequencer{db: db, dialect: dialect}, nil
}

func (s *SQLSequencer) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entity_versions (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	)`)
	if err != nil {
		return fmt.Errorf("create entity_versions: %w", err)
	}
	return nil
}

func (s *SQLSequencer) Next(ctx context.Context, entityType, entityID string) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO entity_versions (entity_type, entity_id, version)
		VALUES (%s, %s, 1)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET version = entity_versions.version + 1
		RETURNING version`, s.dialect.Placeholder(1), s.dialect.Placeholder(2))

	var v int64
	if err := s.db.QueryRowContext(ctx, query, entityType, entityID).Scan(&v); err != nil {
		return 0, fmt.Errorf("next version %s/%s: %w", entityType, entityID, err)
	}
	return v, nil
}
