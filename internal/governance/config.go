package governance

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/env"
	"github.com/animus-labs/dataguard/internal/platform/objectstore"
	"github.com/animus-labs/dataguard/internal/platform/sqldb"
	"github.com/animus-labs/dataguard/internal/remotestore"
	"github.com/animus-labs/dataguard/internal/risk"
	"github.com/animus-labs/dataguard/internal/sink"
)

type Config struct {
	Sink          string
	LogDir        string
	Log           logstore.Config
	MinIO         objectstore.Config
	DB            sqldb.Config
	AuditMirror   bool
	CheckTimeout  time.Duration
	RiskHistory   int
	CatalogPath   string
	AlertInterval time.Duration
}

// DefaultConfig is an in-memory setup with no record store: every remote
// check degrades to a warning and logs stay in process.
func DefaultConfig() Config {
	return Config{
		Sink:          sink.KindMemory,
		Log:           logstore.DefaultConfig(),
		DB:            sqldb.Config{Backend: sqldb.BackendNone},
		CheckTimeout:  remotestore.DefaultCheckTimeout,
		RiskHistory:   risk.DefaultHistory,
		AlertInterval: time.Minute,
	}
}

func ConfigFromEnv() (Config, error) {
	kind, err := env.Choice("DATAGUARD_SINK", sink.KindFile, sink.KindFile, sink.KindMinIO, sink.KindMemory)
	if err != nil {
		return Config{}, err
	}
	logCfg, err := logstore.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("log store: %w", err)
	}
	dbCfg, err := sqldb.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("database: %w", err)
	}
	mirror, err := env.Bool("DATAGUARD_AUDIT_MIRROR", true)
	if err != nil {
		return Config{}, err
	}
	checkTimeout, err := env.Duration("DATAGUARD_CHECK_TIMEOUT", remotestore.DefaultCheckTimeout)
	if err != nil {
		return Config{}, err
	}
	history, err := env.Int("DATAGUARD_RISK_HISTORY", risk.DefaultHistory)
	if err != nil {
		return Config{}, err
	}
	alertInterval, err := env.Duration("DATAGUARD_ALERT_INTERVAL", time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Sink:          kind,
		LogDir:        env.String("DATAGUARD_LOG_DIR", "governance-logs"),
		Log:           logCfg,
		DB:            dbCfg,
		AuditMirror:   mirror,
		CheckTimeout:  checkTimeout,
		RiskHistory:   history,
		CatalogPath:   env.String("DATAGUARD_CATALOG_PATH", ""),
		AlertInterval: alertInterval,
	}
	if kind == sink.KindMinIO {
		cfg.MinIO, err = objectstore.ConfigFromEnv()
		if err != nil {
			return Config{}, fmt.Errorf("minio: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Sink {
	case sink.KindFile:
		if strings.TrimSpace(c.LogDir) == "" {
			return errors.New("DATAGUARD_LOG_DIR is required for the file sink")
		}
	case sink.KindMinIO:
		if err := c.MinIO.Validate(); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
	case sink.KindMemory:
	default:
		return fmt.Errorf("unsupported sink: %q", c.Sink)
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if c.CheckTimeout <= 0 {
		return errors.New("DATAGUARD_CHECK_TIMEOUT must be positive")
	}
	if c.RiskHistory < 1 {
		return errors.New("DATAGUARD_RISK_HISTORY must be >= 1")
	}
	if c.AlertInterval < 0 {
		return errors.New("DATAGUARD_ALERT_INTERVAL must be >= 0")
	}
	return nil
}
