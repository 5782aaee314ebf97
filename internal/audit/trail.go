// Package audit records a diff-based, versioned trail of entity mutations.
//
// The trail runs after the caller's mutation has already happened, so it
// never fails the caller: a record that cannot be completed is queued for
// RetryPending and reported through the alert notifier.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/dataguard/internal/alert"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/animus-labs/dataguard/internal/redact"
	"github.com/google/uuid"
)

// ErrAuditFailure marks a record that could not be completed and was deferred.
var ErrAuditFailure = errors.New("audit record deferred")

const (
	DefaultPendingLimit = 256
	defaultActor        = "anonymous"
)

type Event struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.EntityType) == "" {
		return errors.New("EntityType is required")
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return errors.New("EntityID is required")
	}
	return nil
}

// Pending is a deferred event waiting for RetryPending.
type Pending struct {
	Operation  Operation `json:"operation"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Since      time.Time `json:"since"`
	Err        string    `json:"error"`

	event Event
}

type EntryWriter interface {
	Write(e logstore.Entry)
}

type Trail struct {
	seq          Sequencer
	mirror       Mirror
	log          EntryWriter
	logger       *slog.Logger
	alerts       alert.Notifier
	metrics      *metrics.Metrics
	now          func() time.Time
	pendingLimit int

	mu      sync.Mutex
	pending []Pending
}

type Option func(*Trail)

func WithSequencer(s Sequencer) Option      { return func(t *Trail) { t.seq = s } }
func WithMirror(m Mirror) Option            { return func(t *Trail) { t.mirror = m } }
func WithLog(w EntryWriter) Option          { return func(t *Trail) { t.log = w } }
func WithMetrics(m *metrics.Metrics) Option { return func(t *Trail) { t.metrics = m } }

func WithPendingLimit(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.pendingLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithAlerts(n alert.Notifier) Option {
	return func(t *Trail) {
		if n != nil {
			t.alerts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

func New(opts ...Option) *Trail {
	t := &Trail{
		logger:       slog.New(slog.DiscardHandler),
		alerts:       alert.Nop{},
		now:          time.Now,
		pendingLimit: DefaultPendingLimit,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.seq == nil {
		t.seq = NewMemorySequencer()
	}
	return t
}

// RecordCreate audits a new entity. ev.Before is ignored.
func (t *Trail) RecordCreate(ctx context.Context, ev Event) *Record {
	ev.Before = nil
	return t.record(ctx, OpCreate, ev)
}

// RecordUpdate audits a change. It returns nil without logging anything when
// before and after are equal.
func (t *Trail) RecordUpdate(ctx context.Context, ev Event) *Record {
	return t.record(ctx, OpUpdate, ev)
}

// RecordDelete audits a removal. ev.After is ignored.
func (t *Trail) RecordDelete(ctx context.Context, ev Event) *Record {
	ev.After = nil
	return t.record(ctx, OpDelete, ev)
}

func (t *Trail) record(ctx context.Context, op Operation, ev Event) *Record {
	if err := ev.Validate(); err != nil {
		t.logger.Warn("audit event rejected", "operation", op, "error", err)
		return nil
	}
	at := t.now().UTC()
	rec, err := t.complete(ctx, op, ev, at)
	if err != nil {
		t.deferEvent(op, ev, at, err)
		return nil
	}
	return rec
}

func (t *Trail) complete(ctx context.Context, op Operation, ev Event, at time.Time) (*Record, error) {
	changes := Diff(ev.Before, ev.After)
	if op == OpUpdate && len(changes) == 0 {
		return nil, nil
	}
	for i := range changes {
		c := &changes[i]
		if c.Old != nil {
			c.Old = redact.Field(c.Field, c.Old, redact.AuditMaxLen)
		}
		if c.New != nil {
			c.New = redact.Field(c.Field, c.New, redact.AuditMaxLen)
		}
	}
	if changes == nil {
		changes = []Change{}
	}

	version, err := t.seq.Next(ctx, ev.EntityType, ev.EntityID)
	if err != nil {
		return nil, err
	}

	actor := strings.TrimSpace(ev.ActorID)
	if actor == "" {
		actor = defaultActor
	}
	rec := &Record{
		EntityType: strings.TrimSpace(ev.EntityType),
		EntityID:   strings.TrimSpace(ev.EntityID),
		ActorID:    actor,
		TenantID:   strings.TrimSpace(ev.TenantID),
		Operation:  op,
		Timestamp:  at,
		Version:    version,
		Before:     redact.Snapshot(ev.Before, redact.AuditMaxLen),
		After:      redact.Snapshot(ev.After, redact.AuditMaxLen),
		Changes:    changes,
		Summary:    Summary(changes),
		SessionID:  strings.TrimSpace(ev.SessionID),
		Reason:     redact.Truncate(strings.TrimSpace(ev.Reason), redact.AuditMaxLen),
	}
	rec.IntegritySHA256, err = ComputeIntegritySHA256(*rec)
	if err != nil {
		return nil, err
	}

	if t.mirror != nil {
		if err := t.mirror.Insert(ctx, *rec); err != nil {
			return nil, err
		}
	}

	t.metrics.AuditRecord(string(op))
	if t.log != nil {
		t.log.Write(logstore.Entry{
			Severity:  severity(op),
			Category:  logstore.CategoryAudit,
			ID:        uuid.NewString(),
			Timestamp: rec.Timestamp,
			Source:    "audit-trail",
			Body:      Format(*rec),
		})
	}
	return rec, nil
}

func severity(op Operation) logstore.Severity {
	if op == OpDelete {
		return logstore.SeverityWarn
	}
	return logstore.SeverityInfo
}

func (t *Trail) deferEvent(op Operation, ev Event, at time.Time, err error) {
	err = fmt.Errorf("%w: %w", ErrAuditFailure, err)
	p := Pending{
		Operation:  op,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Since:      at,
		Err:        err.Error(),
		event:      ev,
	}

	t.mu.Lock()
	dropped := 0
	t.pending = append(t.pending, p)
	if over := len(t.pending) - t.pendingLimit; over > 0 {
		dropped = over
		t.pending = append([]Pending(nil), t.pending[over:]...)
	}
	n := len(t.pending)
	t.mu.Unlock()

	t.metrics.AuditFailure(n)
	t.alerts.Alert(alert.KindAudit, "audit record deferred", err,
		"operation", op, "entity_type", ev.EntityType, "entity_id", ev.EntityID, "pending", n, "dropped", dropped)
}

// Pending lists deferred events, oldest first.
func (t *Trail) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Pending, len(t.pending))
	copy(out, t.pending)
	return out
}

// RetryPending replays every deferred event with its original timestamp.
// Events that fail again go back on the queue.
func (t *Trail) RetryPending(ctx context.Context) (int, error) {
	t.mu.Lock()
	queue := t.pending
	t.pending = nil
	t.mu.Unlock()

	replayed := 0
	var errs []error
	for i, p := range queue {
		if err := ctx.Err(); err != nil {
			t.requeue(queue[i:])
			errs = append(errs, err)
			break
		}
		if _, err := t.complete(ctx, p.Operation, p.event, p.Since); err != nil {
			err = fmt.Errorf("%w: %w", ErrAuditFailure, err)
			p.Err = err.Error()
			t.requeue([]Pending{p})
			errs = append(errs, err)
			continue
		}
		replayed++
	}
	t.metrics.SetAuditPending(len(t.Pending()))
	return replayed, errors.Join(errs...)
}

func (t *Trail) requeue(items []Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, items...)
	if over := len(t.pending) - t.pendingLimit; over > 0 {
		t.pending = t.pending[over:]
	}
}

// Format renders the log body of a record.
func Format(r Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "operation=%s entity_type=%s entity_id=%s version=%d\n", r.Operation, r.EntityType, r.EntityID, r.Version)
	fmt.Fprintf(&b, "actor_id=%s", r.ActorID)
	if r.TenantID != "" {
		fmt.Fprintf(&b, " tenant_id=%s", r.TenantID)
	}
	if r.SessionID != "" {
		fmt.Fprintf(&b, " session_id=%s", r.SessionID)
	}
	b.WriteByte('\n')
	if r.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", r.Reason)
	}
	fmt.Fprintf(&b, "summary: %s\n", r.Summary)
	if len(r.Changes) > 0 {
		b.WriteString("changes:\n")
		for _, c := range r.Changes {
			switch c.Type {
			case ChangeAdded:
				fmt.Fprintf(&b, "  + %s = %s\n", c.Field, jsonValue(c.New))
			case ChangeRemoved:
				fmt.Fprintf(&b, "  - %s = %s\n", c.Field, jsonValue(c.Old))
			default:
				fmt.Fprintf(&b, "  ~ %s: %s -> %s\n", c.Field, jsonValue(c.Old), jsonValue(c.New))
			}
		}
	}
	if r.Before != nil {
		fmt.Fprintf(&b, "before: %s\n", jsonValue(r.Before))
	}
	if r.After != nil {
		fmt.Fprintf(&b, "after: %s\n", jsonValue(r.After))
	}
	fmt.Fprintf(&b, "integrity_sha256=%s", r.IntegritySHA256)
	return b.String()
}

func jsonValue(v any) string {
	blob, err := Canonical(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(blob)
}
