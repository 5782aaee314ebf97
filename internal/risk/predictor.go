// Package risk flags operations that are likely to fail or leak data before
// they reach the record store. Assessments are advisory: a warning is logged
// and retained, and the operation is never rejected or modified.
package risk

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/dataguard/internal/alert"
	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/google/uuid"
)

const DefaultHistory = 100

type Warning struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Level            Level          `json:"level"`
	PredictedFailure string         `json:"predicted_failure"`
	PreventionAdvice string         `json:"prevention_advice"`
	TechnicalContext map[string]any `json:"technical_context"`
	Timestamp        time.Time      `json:"timestamp"`
	Resolved         bool           `json:"resolved"`
}

// EntryWriter receives one log entry per warning.
type EntryWriter interface {
	Write(e logstore.Entry)
}

type Predictor struct {
	catalog  *catalog.Catalog
	patterns []Pattern
	log      EntryWriter
	logger   *slog.Logger
	alerts   alert.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	mu   sync.Mutex
	ring []Warning
	head int
	size int
}

type Option func(*Predictor)

func WithPatterns(p ...Pattern) Option      { return func(r *Predictor) { r.patterns = p } }
func WithLog(w EntryWriter) Option          { return func(r *Predictor) { r.log = w } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Predictor) { r.metrics = m } }

func WithHistory(n int) Option {
	return func(r *Predictor) {
		if n > 0 {
			r.ring = make([]Warning, n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Predictor) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithAlerts(n alert.Notifier) Option {
	return func(r *Predictor) {
		if n != nil {
			r.alerts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Predictor) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cat *catalog.Catalog, opts ...Option) *Predictor {
	if cat == nil {
		cat = catalog.Default()
	}
	p := &Predictor{
		catalog:  cat,
		patterns: DefaultPatterns(),
		logger:   slog.New(slog.DiscardHandler),
		alerts:   alert.Nop{},
		now:      time.Now,
		ring:     make([]Warning, DefaultHistory),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Assess evaluates every pattern against d and returns the warnings raised,
// in pattern order. Entity types missing from the catalog are assessed
// against an empty rule set whose only identifying field is "id".
func (p *Predictor) Assess(d OperationDescriptor) []Warning {
	d.Kind, _ = ParseKind(string(d.Kind))
	rs, ok := p.catalog.Lookup(d.EntityType)
	if !ok {
		rs = catalog.RuleSet{EntityType: d.EntityType}
	}

	var out []Warning
	for _, pattern := range p.patterns {
		if pattern.Trigger == nil {
			continue
		}
		detail, matched := pattern.Trigger(d, rs)
		if !matched {
			continue
		}
		w := Warning{
			ID:               uuid.NewString(),
			Type:             pattern.ID,
			Level:            pattern.Level,
			PredictedFailure: pattern.PredictedFailure,
			PreventionAdvice: pattern.PreventionAdvice,
			TechnicalContext: map[string]any{
				"operation":      string(d.Kind),
				"entity_type":    d.EntityType,
				"payload_fields": append([]string(nil), d.PayloadFields...),
				"filter_fields":  append([]string(nil), d.FilterFields...),
				"detail":         detail,
			},
			Timestamp: p.now().UTC(),
		}
		p.retain(w)
		p.metrics.RiskWarning(pattern.ID, string(pattern.Level))
		p.record(w)
		out = append(out, w.clone())
	}
	return out
}

// clone copies the context map and the field lists inside it, so callers
// never share state with the retained warning.
func (w Warning) clone() Warning {
	if w.TechnicalContext == nil {
		return w
	}
	ctx := make(map[string]any, len(w.TechnicalContext))
	for k, v := range w.TechnicalContext {
		if fields, ok := v.([]string); ok {
			v = slices.Clone(fields)
		}
		ctx[k] = v
	}
	w.TechnicalContext = ctx
	return w
}

func (p *Predictor) retain(w Warning) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := (p.head + p.size) % len(p.ring)
	p.ring[idx] = w
	if p.size < len(p.ring) {
		p.size++
		return
	}
	p.head = (p.head + 1) % len(p.ring)
}

// record writes w to the risk log. A broken log writer must not surface to
// the caller, so panics are turned into an alert.
func (p *Predictor) record(w Warning) {
	if p.log == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.alerts.Alert(alert.KindRiskLogging, "risk warning could not be logged", fmt.Errorf("%v", r), "warning_id", w.ID)
		}
	}()
	p.log.Write(logstore.Entry{
		Severity:  severity(w.Level),
		Category:  logstore.CategoryRisk,
		ID:        w.ID,
		Timestamp: w.Timestamp,
		Source:    "risk-predictor",
		Body:      body(w),
	})
	p.logger.Warn("risk warning", "type", w.Type, "level", w.Level, "entity_type", w.TechnicalContext["entity_type"])
}

func severity(l Level) logstore.Severity {
	switch l {
	case LevelCritical:
		return logstore.SeverityCritical
	case LevelHigh:
		return logstore.SeverityError
	case LevelMedium:
		return logstore.SeverityWarn
	default:
		return logstore.SeverityInfo
	}
}

func body(w Warning) string {
	ctx := w.TechnicalContext
	var b strings.Builder
	fmt.Fprintf(&b, "type=%s level=%s\n", w.Type, w.Level)
	fmt.Fprintf(&b, "predicted_failure: %s\n", w.PredictedFailure)
	fmt.Fprintf(&b, "prevention_advice: %s\n", w.PreventionAdvice)
	fmt.Fprintf(&b, "operation=%v entity_type=%v\n", ctx["operation"], ctx["entity_type"])
	fmt.Fprintf(&b, "payload_fields=%v filter_fields=%v\n", ctx["payload_fields"], ctx["filter_fields"])
	fmt.Fprintf(&b, "detail: %v", ctx["detail"])
	return b.String()
}

// Recent returns the retained warnings, oldest first.
func (p *Predictor) Recent() []Warning {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Warning, p.size)
	for i := range p.size {
		out[i] = p.ring[(p.head+i)%len(p.ring)].clone()
	}
	return out
}

// Resolve marks a retained warning as resolved. It reports false when the
// warning is unknown or already evicted.
func (p *Predictor) Resolve(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.size {
		idx := (p.head + i) % len(p.ring)
		if p.ring[idx].ID == id {
			p.ring[idx].Resolved = true
			return true
		}
	}
	return false
}
