package remotestore

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animus-labs/dataguard/internal/platform/sqldb"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE empresas (id INTEGER PRIMARY KEY, rut TEXT, email_empresa TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO empresas (id, rut, email_empresa) VALUES (1, '11.111.111-1', 'a@b.cl'), (2, '22.222.222-2', 'c@d.cl')`)
	require.NoError(t, err)
	return db
}

func TestSQLStoreCountAndExists(t *testing.T) {
	store, err := NewSQLStore(openSQLite(t), sqldb.SQLite)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := store.Count(ctx, "empresas", "rut", "11.111.111-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = store.Count(ctx, "empresas", "rut", "99.999.999-9")
	require.NoError(t, err)
	assert.Zero(t, n)

	found, err := store.Exists(ctx, "empresas", map[string]any{"id": 2, "email_empresa": "c@d.cl"})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.Exists(ctx, "empresas", map[string]any{"id": 2, "email_empresa": "a@b.cl"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLStoreRejectsUnsafeIdentifiers(t *testing.T) {
	store, err := NewSQLStore(openSQLite(t), sqldb.SQLite)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Count(ctx, "empresas; DROP TABLE empresas", "rut", "x")
	require.Error(t, err)
	_, err = store.Exists(ctx, "empresas", map[string]any{"rut OR 1=1": "x"})
	require.Error(t, err)
	_, err = store.Exists(ctx, "empresas", nil)
	require.Error(t, err)
}

type slowStore struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *slowStore) Count(ctx context.Context, entityType, field string, value any) (int64, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return 7, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *slowStore) Exists(ctx context.Context, entityType string, filter map[string]any) (bool, error) {
	_, err := s.Count(ctx, entityType, "", nil)
	return err == nil, err
}

func TestCheckedTimeoutIsUnavailable(t *testing.T) {
	c := NewChecked(&slowStore{delay: time.Second}, 20*time.Millisecond)
	_, err := c.Count(context.Background(), "empresas", "rut", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCheckedSurvivesCallerCancellation(t *testing.T) {
	c := NewChecked(&slowStore{delay: 30 * time.Millisecond}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := c.Count(ctx, "empresas", "rut", "x")
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
}

func TestCheckedWithoutStore(t *testing.T) {
	c := NewChecked(nil, 0)
	_, err := c.Exists(context.Background(), "empresas", map[string]any{"id": 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCheckedCollapsesConcurrentLookups(t *testing.T) {
	inner := &slowStore{delay: 50 * time.Millisecond}
	c := NewChecked(inner, time.Second)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = c.Count(context.Background(), "empresas", "rut", "same")
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Less(t, inner.calls.Load(), int32(5))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	m.Insert("empresas", map[string]any{"id": 1, "rut": "11.111.111-1"})
	ctx := context.Background()

	n, err := m.Count(ctx, "empresas", "rut", "11.111.111-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err := m.Exists(ctx, "empresas", map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.True(t, ok, "values compare by their printed form")

	_, err = m.Exists(ctx, "empresas", map[string]any{})
	require.Error(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Count(canceled, "empresas", "rut", "x")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestValueKeyIncludesType(t *testing.T) {
	assert.NotEqual(t, ValueKey(1), ValueKey("1"))
	assert.NotEqual(t, ValueKey(int64(1)), ValueKey(1.0))
	assert.Equal(t, ValueKey("11.111.111-1"), ValueKey("11.111.111-1"))
}
