package logstore

import (
	"errors"
	"strings"
	"time"

	"github.com/animus-labs/dataguard/internal/platform/env"
)

const DefaultRotationBytes = 1 << 20

type Config struct {
	// RotationBytes is the segment size past which a stream is sealed.
	RotationBytes int64
	// Subsystem is stamped into every stream header.
	Subsystem     string
	SinkRetries   int
	SinkTimeout   time.Duration
	RetryInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		RotationBytes: DefaultRotationBytes,
		Subsystem:     "data-governance",
		SinkRetries:   2,
		SinkTimeout:   10 * time.Second,
		RetryInterval: 200 * time.Millisecond,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	rotation, err := env.Int64("DATAGUARD_LOG_ROTATION_BYTES", def.RotationBytes)
	if err != nil {
		return Config{}, err
	}
	retries, err := env.Int("DATAGUARD_SINK_RETRIES", def.SinkRetries)
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("DATAGUARD_SINK_TIMEOUT", def.SinkTimeout)
	if err != nil {
		return Config{}, err
	}
	interval, err := env.Duration("DATAGUARD_SINK_RETRY_INTERVAL", def.RetryInterval)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		RotationBytes: rotation,
		Subsystem:     env.String("DATAGUARD_LOG_SUBSYSTEM", def.Subsystem),
		SinkRetries:   retries,
		SinkTimeout:   timeout,
		RetryInterval: interval,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RotationBytes <= 0 {
		return errors.New("DATAGUARD_LOG_ROTATION_BYTES must be positive")
	}
	if strings.TrimSpace(c.Subsystem) == "" {
		return errors.New("DATAGUARD_LOG_SUBSYSTEM is required")
	}
	if c.SinkRetries < 1 {
		return errors.New("DATAGUARD_SINK_RETRIES must be >= 1")
	}
	if c.SinkTimeout <= 0 {
		return errors.New("DATAGUARD_SINK_TIMEOUT must be positive")
	}
	if c.RetryInterval < 0 {
		return errors.New("DATAGUARD_SINK_RETRY_INTERVAL must be >= 0")
	}
	return nil
}
