// Package governance assembles the pipeline into one Guard value that is
// built once at startup and shared by every caller.
package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/dataguard/internal/alert"
	"github.com/animus-labs/dataguard/internal/audit"
	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/animus-labs/dataguard/internal/platform/objectstore"
	"github.com/animus-labs/dataguard/internal/platform/sqldb"
	"github.com/animus-labs/dataguard/internal/remotestore"
	"github.com/animus-labs/dataguard/internal/risk"
	"github.com/animus-labs/dataguard/internal/sink"
	"github.com/animus-labs/dataguard/internal/validation"
)

type Guard struct {
	catalog   *catalog.Catalog
	log       *logstore.Store
	validator *validation.Engine
	risk      *risk.Predictor
	audit     *audit.Trail
	sink      sink.Sink
	db        *sql.DB
	logger    *slog.Logger
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sink      sink.Sink
	remote    remotestore.Store
	sequencer audit.Sequencer
	now       func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option          { return func(o *options) { o.logger = l } }
func WithMetrics(m *metrics.Metrics) Option     { return func(o *options) { o.metrics = m } }
func WithSink(s sink.Sink) Option               { return func(o *options) { o.sink = s } }
func WithSequencer(s audit.Sequencer) Option    { return func(o *options) { o.sequencer = s } }
func WithClock(now func() time.Time) Option     { return func(o *options) { o.now = now } }
func WithRemoteStore(s remotestore.Store) Option { return func(o *options) { o.remote = s } }

// New builds every component from cfg. Options replace the sink or the raw
// record store, which is how tests and the CLI dry run avoid real backends.
func New(ctx context.Context, cfg Config, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.New(slog.DiscardHandler), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	sk := o.sink
	if sk == nil {
		sk, err = openSink(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("sink: %w", err)
		}
	}

	g := &Guard{catalog: cat, sink: sk, logger: o.logger}
	alerts := alert.NewLogNotifier(o.logger, o.metrics, cfg.AlertInterval)

	g.log, err = logstore.New(cfg.Log, sk,
		logstore.WithLogger(o.logger),
		logstore.WithAlerts(alerts),
		logstore.WithMetrics(o.metrics),
		logstore.WithClock(o.now),
	)
	if err != nil {
		return nil, fmt.Errorf("log store: %w", err)
	}

	raw := o.remote
	seq := o.sequencer
	var mirror audit.Mirror
	if raw == nil && cfg.DB.Enabled() {
		db, err := sqldb.Open(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		g.db = db
		dialect := cfg.DB.Dialect()

		raw, err = remotestore.NewSQLStore(db, dialect)
		if err != nil {
			return nil, g.abort(err)
		}
		if seq == nil {
			sqlSeq, err := audit.NewSQLSequencer(db, dialect)
			if err != nil {
				return nil, g.abort(err)
			}
			if err := sqlSeq.EnsureSchema(ctx); err != nil {
				return nil, g.abort(err)
			}
			seq = sqlSeq
		}
		if cfg.AuditMirror {
			sqlMirror, err := audit.NewSQLMirror(db, dialect)
			if err != nil {
				return nil, g.abort(err)
			}
			if err := sqlMirror.EnsureSchema(ctx); err != nil {
				return nil, g.abort(err)
			}
			mirror = sqlMirror
		}
	}
	if raw == nil {
		o.logger.Warn("no record store configured; referential and uniqueness checks will be inconclusive")
	}
	checked := remotestore.NewChecked(raw, cfg.CheckTimeout)

	g.validator, err = validation.New(cat, checked,
		validation.WithLog(g.log),
		validation.WithLogger(o.logger),
		validation.WithMetrics(o.metrics),
		validation.WithClock(o.now),
	)
	if err != nil {
		return nil, g.abort(err)
	}

	g.risk = risk.New(cat,
		risk.WithLog(g.log),
		risk.WithHistory(cfg.RiskHistory),
		risk.WithLogger(o.logger),
		risk.WithAlerts(alerts),
		risk.WithMetrics(o.metrics),
		risk.WithClock(o.now),
	)

	trailOpts := []audit.Option{
		audit.WithLog(g.log),
		audit.WithLogger(o.logger),
		audit.WithAlerts(alerts),
		audit.WithMetrics(o.metrics),
		audit.WithClock(o.now),
	}
	if seq != nil {
		trailOpts = append(trailOpts, audit.WithSequencer(seq))
	}
	if mirror != nil {
		trailOpts = append(trailOpts, audit.WithMirror(mirror))
	}
	g.audit = audit.New(trailOpts...)

	return g, nil
}

func (g *Guard) abort(err error) error {
	if g.db != nil {
		_ = g.db.Close()
	}
	return err
}

func openSink(ctx context.Context, cfg Config) (sink.Sink, error) {
	switch cfg.Sink {
	case sink.KindFile:
		return sink.NewFileSink(cfg.LogDir)
	case sink.KindMinIO:
		client, err := objectstore.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := objectstore.EnsureBucket(ctx, client, cfg.MinIO); err != nil {
			return nil, err
		}
		return sink.NewObjectSink(client, cfg.MinIO)
	case sink.KindMemory:
		return sink.NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("unsupported sink: %q", cfg.Sink)
	}
}

func (g *Guard) Catalog() *catalog.Catalog { return g.catalog }
func (g *Guard) Log() *logstore.Store      { return g.log }
func (g *Guard) Risk() *risk.Predictor     { return g.risk }
func (g *Guard) Audit() *audit.Trail       { return g.audit }
func (g *Guard) Sink() sink.Sink           { return g.sink }

func (g *Guard) ValidateBeforeInsert(ctx context.Context, entityType string, records ...map[string]any) validation.Verdict {
	return g.validator.ValidateBeforeInsert(ctx, entityType, records...)
}

func (g *Guard) ValidateBeforeUpdate(ctx context.Context, entityType string, record, filter map[string]any) validation.Verdict {
	return g.validator.ValidateBeforeUpdate(ctx, entityType, record, filter)
}

func (g *Guard) AssessOperation(d risk.OperationDescriptor) []risk.Warning {
	return g.risk.Assess(d)
}

func (g *Guard) RecordCreate(ctx context.Context, ev audit.Event) *audit.Record {
	return g.audit.RecordCreate(ctx, ev)
}

func (g *Guard) RecordUpdate(ctx context.Context, ev audit.Event) *audit.Record {
	return g.audit.RecordUpdate(ctx, ev)
}

func (g *Guard) RecordDelete(ctx context.Context, ev audit.Event) *audit.Record {
	return g.audit.RecordDelete(ctx, ev)
}

// FlushAll replays deferred audit records and then writes every log stream
// to the sink.
func (g *Guard) FlushAll(ctx context.Context) error {
	var errs []error
	if len(g.audit.Pending()) > 0 {
		if n, err := g.audit.RetryPending(ctx); err != nil {
			errs = append(errs, err)
		} else {
			g.logger.Info("deferred audit records replayed", "count", n)
		}
	}
	if err := g.log.FlushAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Ready reports whether the configured record store answers.
func (g *Guard) Ready(ctx context.Context) error {
	if g.db == nil {
		return nil
	}
	return g.db.PingContext(ctx)
}

// Close performs the final flush and releases the database.
func (g *Guard) Close(ctx context.Context) error {
	var errs []error
	if len(g.audit.Pending()) > 0 {
		if _, err := g.audit.RetryPending(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := g.log.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
