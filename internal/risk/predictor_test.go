package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/logstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ entries []logstore.Entry }

func (r *recorder) Write(e logstore.Entry) { r.entries = append(r.entries, e) }

type panicWriter struct{}

func (panicWriter) Write(logstore.Entry) { panic("disk on fire") }

type alertSpy struct{ kinds []string }

func (a *alertSpy) Alert(kind, _ string, _ error, _ ...any) { a.kinds = append(a.kinds, kind) }

func types(ws []Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Type
	}
	return out
}

func TestUpdateWithoutIdentifyingFilter(t *testing.T) {
	rec := &recorder{}
	p := New(catalog.Default(), WithLog(rec))

	ws := p.Assess(OperationDescriptor{Kind: KindUpdate, EntityType: "empresas", PayloadFields: []string{"razon_social"}})
	require.Equal(t, []string{"malformed_update_target"}, types(ws))
	assert.Equal(t, LevelCritical, ws[0].Level)
	assert.NotEmpty(t, ws[0].ID)
	assert.False(t, ws[0].Resolved)

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, logstore.CategoryRisk, e.Category)
	assert.Equal(t, logstore.SeverityCritical, e.Severity)
	assert.Equal(t, ws[0].ID, e.ID)
	assert.Contains(t, e.Body, "malformed update target")
}

func TestInsertMissingRequired(t *testing.T) {
	p := New(catalog.Default())
	ws := p.Assess(Describe(KindInsert, "empresas", map[string]any{"rut": "1-9", "razon_social": " "}, nil))
	require.Equal(t, []string{"insert_missing_required"}, types(ws))
	assert.Equal(t, LevelHigh, ws[0].Level)
	assert.Equal(t, "missing: razon_social, email_empresa", ws[0].TechnicalContext["detail"])

	ws = p.Assess(Describe(KindInsert, "empresas", map[string]any{"rut": "1-9", "razon_social": "A", "email_empresa": "a@b.cl"}, nil))
	assert.Empty(t, ws)
}

func TestTenantAndIDFilter(t *testing.T) {
	p := New(catalog.Default())
	ws := p.Assess(OperationDescriptor{Kind: KindSelect, EntityType: "usuarios", FilterFields: []string{"empresa_id", "id"}})
	require.Equal(t, []string{"tenant_and_id_filter"}, types(ws))
	assert.Equal(t, LevelCritical, ws[0].Level)
}

func TestCrossTenantSelect(t *testing.T) {
	p := New(catalog.Default())
	ws := p.Assess(OperationDescriptor{Kind: KindSelect, EntityType: "capacitaciones", FilterFields: []string{"estado"}})
	require.Equal(t, []string{"cross_tenant_select"}, types(ws))

	// empresas is the tenant itself
	assert.Empty(t, p.Assess(OperationDescriptor{Kind: KindSelect, EntityType: "empresas"}))
}

func TestUnboundedDelete(t *testing.T) {
	p := New(catalog.Default())
	ws := p.Assess(OperationDescriptor{Kind: "delete", EntityType: "usuarios", FilterFields: []string{"rol"}})
	require.Equal(t, []string{"unbounded_delete"}, types(ws))
	assert.Equal(t, "DELETE", ws[0].TechnicalContext["operation"])

	assert.Empty(t, p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios", FilterFields: []string{"email"}}))
}

func TestIdentityFieldRewrite(t *testing.T) {
	p := New(catalog.Default())
	ws := p.Assess(OperationDescriptor{Kind: KindUpdate, EntityType: "empresas", PayloadFields: []string{"rut"}, FilterFields: []string{"id"}})
	require.Equal(t, []string{"identity_field_rewrite"}, types(ws))
	assert.Equal(t, LevelMedium, ws[0].Level)

	assert.Empty(t, p.Assess(OperationDescriptor{Kind: KindUpdate, EntityType: "empresas", PayloadFields: []string{"rut"}, FilterFields: []string{"rut"}}))
}

func TestUnknownEntityUsesIDOnly(t *testing.T) {
	p := New(catalog.Default())
	assert.Equal(t, []string{"malformed_update_target"}, types(p.Assess(OperationDescriptor{Kind: KindUpdate, EntityType: "facturas", FilterFields: []string{"numero"}})))
	assert.Empty(t, p.Assess(OperationDescriptor{Kind: KindUpdate, EntityType: "facturas", FilterFields: []string{"id"}, PayloadFields: []string{"total"}}))
}

func TestAssessDoesNotMutateDescriptor(t *testing.T) {
	p := New(catalog.Default())
	d := OperationDescriptor{Kind: KindUpdate, EntityType: "empresas", PayloadFields: []string{"rut"}, FilterFields: []string{"razon_social"}}
	ws := p.Assess(d)
	require.NotEmpty(t, ws)
	ws[0].TechnicalContext["payload_fields"].([]string)[0] = "changed"
	assert.Equal(t, "rut", d.PayloadFields[0])
}

func TestHistoryEvictsOldest(t *testing.T) {
	base := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	tick := 0
	p := New(catalog.Default(), WithHistory(3), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	for range 5 {
		p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios"})
	}
	recent := p.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, base.Add(3*time.Second), recent[0].Timestamp)
	assert.Equal(t, base.Add(5*time.Second), recent[2].Timestamp)
}

func TestResolve(t *testing.T) {
	p := New(catalog.Default(), WithHistory(2))
	first := p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios"})[0]
	second := p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios"})[0]

	assert.True(t, p.Resolve(second.ID))
	assert.False(t, p.Resolve("missing"))
	recent := p.Recent()
	assert.False(t, recent[0].Resolved)
	assert.True(t, recent[1].Resolved)

	p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios"})
	assert.False(t, p.Resolve(first.ID), "evicted warnings cannot be resolved")
}

func TestLoggingFailureBecomesAlert(t *testing.T) {
	spy := &alertSpy{}
	p := New(catalog.Default(), WithLog(panicWriter{}), WithAlerts(spy))
	ws := p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "usuarios"})
	assert.Len(t, ws, 1)
	assert.Equal(t, []string{"risk_logging_failed"}, spy.kinds)
}

func TestWarningBodyCarriesNoValues(t *testing.T) {
	rec := &recorder{}
	p := New(catalog.Default(), WithLog(rec))
	p.Assess(Describe(KindUpdate, "usuarios", map[string]any{"password": "hunter2"}, map[string]any{"rol": "admin"}))
	require.NotEmpty(t, rec.entries)
	for _, e := range rec.entries {
		assert.False(t, strings.Contains(e.Body, "hunter2"))
	}
}

func TestRetainedWarningsAreIsolatedFromCallers(t *testing.T) {
	p := New(catalog.Default())

	ws := p.Assess(OperationDescriptor{Kind: KindDelete, EntityType: "empresas", FilterFields: []string{"razon_social"}})
	require.Len(t, ws, 1)
	ws[0].TechnicalContext["detail"] = "tampered"
	ws[0].TechnicalContext["filter_fields"].([]string)[0] = "tampered"

	recent := p.Recent()
	require.Len(t, recent, 1)
	assert.NotEqual(t, "tampered", recent[0].TechnicalContext["detail"])
	assert.Equal(t, []string{"razon_social"}, recent[0].TechnicalContext["filter_fields"])

	recent[0].TechnicalContext["detail"] = "tampered again"
	assert.NotEqual(t, "tampered again", p.Recent()[0].TechnicalContext["detail"])
}
