package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_DefaultsToNone(t *testing.T) {
	t.Setenv("DATAGUARD_REMOTE", "")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv_Postgres(t *testing.T) {
	t.Setenv("DATAGUARD_REMOTE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x")
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, Postgres, cfg.Dialect())
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.URL)
}

func TestConfigValidate_IdleAboveOpen(t *testing.T) {
	cfg := Config{Backend: BackendSQLite, URL: "file::memory:", PingTimeout: 1, MaxOpenConns: 1, MaxIdleConns: 2}
	require.Error(t, cfg.Validate())
}

func TestDialect(t *testing.T) {
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "?", SQLite.Placeholder(3))
	assert.Equal(t, `"empresas"`, Postgres.Ident("empresas"))
	assert.Equal(t, `"public"."empresas"`, SQLite.Ident("public", "empresas"))
	assert.Equal(t, `"we""ird"`, Postgres.Ident(`we"ird`))
}
