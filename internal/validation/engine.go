// Package validation evaluates catalog rule sets against candidate records
// before an insert or update reaches the record store.
//
// Verdicts are advisory: the engine never blocks a mutation itself. When the
// record store cannot answer a check, the check degrades to a warning.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/animus-labs/dataguard/internal/redact"
	"github.com/animus-labs/dataguard/internal/remotestore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// EntryWriter receives log entries for failed verdicts.
type EntryWriter interface {
	Write(e logstore.Entry)
}

type Engine struct {
	catalog  *catalog.Catalog
	store    remotestore.Store
	log      EntryWriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*Engine)

func WithLog(w EntryWriter) Option          { return func(e *Engine) { e.log = w } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an engine. store should be a remotestore.Checked so lookups are
// bounded; a nil store turns every remote check into an inconclusive warning.
func New(cat *catalog.Catalog, store remotestore.Store, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if store == nil {
		store = remotestore.NewChecked(nil, 0)
	}
	e := &Engine{
		catalog:  cat,
		store:    store,
		logger:   slog.New(slog.DiscardHandler),
		validate: newFieldValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) ValidateBeforeInsert(ctx context.Context, entityType string, records ...map[string]any) Verdict {
	return e.Validate(ctx, entityType, OpInsert, records, nil)
}

func (e *Engine) ValidateBeforeUpdate(ctx context.Context, entityType string, record, filter map[string]any) Verdict {
	return e.Validate(ctx, entityType, OpUpdate, []map[string]any{record}, filter)
}

// Validate runs one pass over records. A batch is valid only if every record is.
func (e *Engine) Validate(ctx context.Context, entityType string, op Operation, records []map[string]any, filter map[string]any) Verdict {
	p := &pass{
		engine: e,
		ctx:    ctx,
		op:     op,
		filter: filter,
		counts: make(map[string]int64),
	}

	rs, ok := e.catalog.Lookup(entityType)
	switch {
	case !ok:
		p.warn(Issue{Code: CodeUnknownEntity, Message: fmt.Sprintf("no rule set for entity type %q; nothing was checked", entityType), Record: -1})
	case len(records) == 0:
		p.fail(Issue{Code: CodeRequired, Message: "no records to validate", Record: -1})
	case op == OpUpdate:
		p.rs = rs
		if p.checkUpdateTarget() {
			p.checkRecords(records)
		}
	default:
		p.rs = rs
		p.checkRecords(records)
	}

	v := Verdict{
		EntityType: entityType,
		Operation:  op,
		Valid:      len(p.errors) == 0,
		Errors:     nonNil(p.errors),
		Warnings:   nonNil(p.warnings),
		Preview:    preview(records),
		Timestamp:  e.now().UTC(),
	}
	e.metrics.Verdict(entityType, string(op), v.Valid)
	if !v.Valid {
		e.logFailure(v, filter)
	}
	return v
}

func nonNil(in []Issue) []Issue {
	if in == nil {
		return []Issue{}
	}
	return in
}

func preview(records []map[string]any) []map[string]any {
	if len(records) == 0 {
		return nil
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = redact.Snapshot(r, redact.PreviewMaxLen)
	}
	return out
}

func (e *Engine) logFailure(v Verdict, filter map[string]any) {
	if e.log == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "entity_type=%s operation=%s valid=false\n", v.EntityType, v.Operation)
	if len(filter) > 0 {
		raw, _ := json.Marshal(redact.Snapshot(filter, redact.PreviewMaxLen))
		fmt.Fprintf(&b, "filter: %s\n", raw)
	}
	b.WriteString("errors:\n")
	for _, issue := range v.Errors {
		b.WriteString("  - " + issue.String() + "\n")
	}
	if len(v.Warnings) > 0 {
		b.WriteString("warnings:\n")
		for _, issue := range v.Warnings {
			b.WriteString("  - " + issue.String() + "\n")
		}
	}
	if len(v.Preview) > 0 {
		raw, _ := json.Marshal(v.Preview)
		fmt.Fprintf(&b, "preview: %s\n", raw)
	}
	e.log.Write(logstore.Entry{
		Severity:  logstore.SeverityError,
		Category:  logstore.CategoryValidation,
		ID:        uuid.NewString(),
		Timestamp: v.Timestamp,
		Source:    "validation-engine",
		Body:      b.String(),
	})
}

// pass carries the state of one Validate call, including a memo of remote
// counts so repeated lookups in a batch cost one round trip.
type pass struct {
	collector
	engine *Engine
	ctx    context.Context
	rs     catalog.RuleSet
	op     Operation
	filter map[string]any
	counts map[string]int64
}

func (p *pass) degraded(check string, issue Issue, err error) {
	issue.Code = CodeInconclusive
	issue.Detail = err.Error()
	p.warn(issue)
	p.engine.metrics.Degraded(check)
	p.engine.logger.Warn("remote check degraded", "check", check, "entity_type", p.rs.EntityType, "error", err)
}

func (p *pass) count(entityType, field string, value any) (int64, error) {
	key := entityType + "\x00" + field + "\x00" + remotestore.ValueKey(value)
	if n, ok := p.counts[key]; ok {
		return n, nil
	}
	n, err := p.engine.store.Count(p.ctx, entityType, field, value)
	if err != nil {
		return 0, err
	}
	p.counts[key] = n
	return n, nil
}

// checkUpdateTarget enforces an identifying filter and the existence of the
// targeted record. It returns false when further checks are pointless.
func (p *pass) checkUpdateTarget() bool {
	identifying := p.rs.IdentifyingFields()
	resolvable := false
	for _, f := range identifying {
		if v, ok := p.filter[f]; ok && !blank(v) {
			resolvable = true
			break
		}
	}
	if !resolvable {
		p.fail(Issue{
			Code:    CodeAmbiguousFilter,
			Message: fmt.Sprintf("ambiguous filter: update must target one of %s", strings.Join(identifying, ", ")),
			Record:  -1,
		})
		return false
	}

	found, err := p.engine.store.Exists(p.ctx, p.rs.EntityType, p.filter)
	if err != nil {
		p.degraded("exists", Issue{Message: "could not confirm the update target exists", Record: -1}, err)
		return true
	}
	if !found {
		p.fail(Issue{Code: CodeTargetNotFound, Message: "no record matches the update filter", Record: -1})
		return false
	}
	return true
}

func (p *pass) checkRecords(records []map[string]any) {
	seen := make(map[string]int)
	for i, rec := range records {
		idx := i
		if len(records) == 1 {
			idx = -1
		}
		p.checkRequired(idx, rec)
		p.checkFormats(idx, rec)
		p.checkReferences(idx, rec)
		p.checkBusiness(idx, rec, seen, i)
	}
}

func (p *pass) present(rec map[string]any, field string) (any, bool) {
	v, ok := rec[field]
	return v, ok && !blank(v)
}

func (p *pass) checkRequired(idx int, rec map[string]any) {
	for _, field := range p.rs.Required {
		v, ok := rec[field]
		if p.op == OpUpdate && !ok {
			// partial update leaves the stored value alone
			continue
		}
		if !ok || blank(v) {
			p.fail(Issue{Code: CodeRequired, Field: field, Message: field + " is required and must not be blank", Record: idx})
		}
	}
}

func (p *pass) checkFormats(idx int, rec map[string]any) {
	for _, field := range slices.Sorted(maps.Keys(p.rs.Fields)) {
		rule := p.rs.Fields[field]
		v, ok := p.present(rec, field)
		if !ok {
			continue
		}
		if msg, valid := checkFormat(p.engine.validate, rule, v); !valid {
			p.add(Issue{Code: CodeFormat, Field: field, Message: field + " " + msg, Record: idx}, rule.Blocking())
		}
	}
}

func (p *pass) checkReferences(idx int, rec map[string]any) {
	for _, field := range slices.Sorted(maps.Keys(p.rs.References)) {
		ref := p.rs.References[field]
		v, hasKey := rec[field]
		if p.op == OpUpdate && !hasKey {
			continue
		}
		if !hasKey || blank(v) {
			if ref.Nullable {
				continue
			}
			p.fail(Issue{Code: CodeReferenceRequired, Field: field, Message: fmt.Sprintf("%s must reference an existing %s", field, ref.TargetType), Record: idx})
			continue
		}
		n, err := p.count(ref.TargetType, ref.TargetField, v)
		if err != nil {
			p.degraded("reference", Issue{Field: field, Message: fmt.Sprintf("could not verify %s references an existing %s", field, ref.TargetType), Record: idx}, err)
			continue
		}
		if n == 0 {
			p.fail(Issue{
				Code:    CodeDanglingReference,
				Field:   field,
				Message: fmt.Sprintf("dangling reference: no %s with %s=%v", ref.TargetType, ref.TargetField, shown(v, field, ref.TargetField)),
				Record:  idx,
			})
		}
	}
}

func (p *pass) checkBusiness(idx int, rec map[string]any, seen map[string]int, pos int) {
	for _, rule := range p.rs.Business {
		var (
			violated bool
			msg      string
		)
		switch rule.Kind {
		case catalog.KindUnique:
			violated, msg = p.checkUnique(idx, rule, rec, seen, pos)
		case catalog.KindEnum:
			v, ok := p.present(rec, rule.Field)
			if ok && !slices.Contains(rule.Values, fmt.Sprint(v)) {
				violated = true
				msg = fmt.Sprintf("%s must be one of %s", rule.Field, strings.Join(rule.Values, ", "))
			}
		case catalog.KindRequires:
			_, has := p.present(rec, rule.Field)
			other, hasOtherKey := rec[rule.Other]
			if has && !(p.op == OpUpdate && !hasOtherKey) && blank(other) {
				violated = true
				msg = fmt.Sprintf("%s requires %s", rule.Field, rule.Other)
			}
		case catalog.KindOrder:
			a, okA := p.present(rec, rule.Field)
			b, okB := p.present(rec, rule.Other)
			if okA && okB && compare(a, b) > 0 {
				violated = true
				msg = fmt.Sprintf("%s must not be after %s", rule.Field, rule.Other)
			}
		}
		if !violated {
			continue
		}
		if rule.Message != "" {
			msg = rule.Message
		}
		p.add(Issue{Code: CodeBusinessRule, Field: rule.Field, Message: msg, RuleID: rule.ID, Record: idx}, rule.Critical)
	}
}

func (p *pass) checkUnique(idx int, rule catalog.BusinessRule, rec map[string]any, seen map[string]int, pos int) (bool, string) {
	v, ok := p.present(rec, rule.Field)
	if !ok {
		return false, ""
	}
	key := rule.ID + "\x00" + fmt.Sprint(v)
	if first, dup := seen[key]; dup {
		return true, fmt.Sprintf("%s=%v repeats record[%d] of the same batch", rule.Field, shown(v, rule.Field), first)
	}
	seen[key] = pos

	n, err := p.count(p.rs.EntityType, rule.Field, v)
	if err != nil {
		p.degraded("unique", Issue{Field: rule.Field, RuleID: rule.ID, Message: fmt.Sprintf("could not verify %s is unique", rule.Field), Record: idx}, err)
		return false, ""
	}
	switch {
	case n == 0:
		return false, ""
	case p.op == OpUpdate && n == 1:
		// the single holder may be the record being updated
		target := make(map[string]any, len(p.filter)+1)
		for k, fv := range p.filter {
			target[k] = fv
		}
		target[rule.Field] = v
		self, err := p.engine.store.Exists(p.ctx, p.rs.EntityType, target)
		if err != nil {
			p.degraded("unique", Issue{Field: rule.Field, RuleID: rule.ID, Message: fmt.Sprintf("could not verify %s is unique", rule.Field), Record: idx}, err)
			return false, ""
		}
		if self {
			return false, ""
		}
	}
	return true, fmt.Sprintf("%s=%v is already in use", rule.Field, shown(v, rule.Field))
}

// shown is the form of v that may appear in an issue message: messages end
// up in the validation log, so values of sensitive fields never do.
func shown(v any, fields ...string) any {
	for _, f := range fields {
		if redact.Sensitive(f) {
			return redact.Marker
		}
	}
	return redact.Field("", v, redact.PreviewMaxLen)
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// compare orders two values as times, then numbers, then strings.
func compare(a, b any) int {
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	for _, layout := range timeLayouts {
		ta, errA := time.Parse(layout, sa)
		tb, errB := time.Parse(layout, sb)
		if errA == nil && errB == nil {
			return ta.Compare(tb)
		}
	}
	fa, errA := strconv.ParseFloat(sa, 64)
	fb, errB := strconv.ParseFloat(sb, 64)
	if errA == nil && errB == nil && !math.IsNaN(fa) && !math.IsNaN(fb) {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(sa, sb)
}
