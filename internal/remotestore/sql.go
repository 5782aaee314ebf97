package remotestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/animus-labs/dataguard/internal/platform/sqldb"
)

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore answers checks with COUNT/EXISTS queries against one table per
// entity type.
type SQLStore struct {
	db      QueryRower
	dialect sqldb.Dialect
}

func NewSQLStore(db QueryRower, dialect sqldb.Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func checkIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, entityType, field string, value any) (int64, error) {
	if err := checkIdent("entity", entityType); err != nil {
		return 0, err
	}
	if err := checkIdent("field", field); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		s.dialect.Ident(entityType), s.dialect.Ident(field), s.dialect.Placeholder(1))

	var n int64
	if err := s.db.QueryRowContext(ctx, query, value).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s.%s: %w", entityType, field, err)
	}
	return n, nil
}

func (s *SQLStore) Exists(ctx context.Context, entityType string, filter map[string]any) (bool, error) {
	if err := checkIdent("entity", entityType); err != nil {
		return false, err
	}
	if len(filter) == 0 {
		return false, errors.New("exists requires a non-empty filter")
	}
	fields := make([]string, 0, len(filter))
	for f := range filter {
		if err := checkIdent("field", f); err != nil {
			return false, err
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)

	conds := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		conds[i] = fmt.Sprintf("%s = %s", s.dialect.Ident(f), s.dialect.Placeholder(i+1))
		args[i] = filter[f]
	}
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s)",
		s.dialect.Ident(entityType), strings.Join(conds, " AND "))

	var found bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		return false, fmt.Errorf("exists %s: %w", entityType, err)
	}
	return found, nil
}
