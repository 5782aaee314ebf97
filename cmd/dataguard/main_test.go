package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/animus-labs/dataguard/internal/governance"
	"github.com/animus-labs/dataguard/internal/platform/metrics"
	"github.com/animus-labs/dataguard/internal/sink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATAGUARD_SINK", "memory")
	t.Setenv("DATAGUARD_REMOTE", "none")

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateAcceptsRecord(t *testing.T) {
	out, err := execute(t, `{"nombre":"Ana","email":"ana@acme.cl","rol":"admin","empresa_id":1}`,
		"validate", "--entity", "usuarios")
	require.NoError(t, err, out)

	var verdict struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.True(t, verdict.Valid)
}

func TestValidateRejectsBlankRequiredField(t *testing.T) {
	out, err := execute(t, `[{"razon_social":" ","rut":"11.111.111-1","email_empresa":"c@acme.cl"}]`,
		"validate", "-e", "empresas")
	require.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, `"code": "required"`)
	assert.Contains(t, out, `"field": "razon_social"`)
}

func TestValidateUpdateNeedsIdentifyingFilter(t *testing.T) {
	out, err := execute(t, `{"razon_social":"Acme SpA"}`,
		"validate", "-e", "empresas", "--op", "update", "--filter", `{}`)
	require.ErrorIs(t, err, errRejected)
	assert.Contains(t, out, "ambiguous_filter")
}

func TestValidateReadsInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"razon_social":"Acme","rut":"11.111.111-1","email_empresa":"c@acme.cl"}`), 0o600))

	out, err := execute(t, "", "validate", "-e", "empresas", "-i", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"valid": true`)
}

func TestValidateInputErrors(t *testing.T) {
	_, err := execute(t, "", "validate", "-e", "empresas")
	assert.ErrorContains(t, err, "no records")

	_, err = execute(t, `{"a":1} {"b":2}`, "validate", "-e", "empresas")
	assert.ErrorContains(t, err, "trailing data")

	_, err = execute(t, `[{},{}]`, "validate", "-e", "empresas", "--op", "update")
	assert.ErrorContains(t, err, "exactly one record")

	_, err = execute(t, `{}`, "validate", "-e", "empresas", "--op", "upsert")
	assert.ErrorContains(t, err, "unsupported operation")
}

func TestAssessPrintsWarnings(t *testing.T) {
	out, err := execute(t, "", "assess", "--kind", "update", "--entity", "empresas", "--payload", "razon_social")
	require.NoError(t, err, out)

	var body struct {
		Warnings []struct {
			Type  string `json:"type"`
			Level string `json:"level"`
		} `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Warnings, 1)
	assert.Equal(t, "malformed_update_target", body.Warnings[0].Type)
}

func TestAssessStrictFailsOnCriticalWarning(t *testing.T) {
	_, err := execute(t, "", "assess", "-k", "delete", "-e", "empresas", "--strict")
	assert.ErrorIs(t, err, errRejected)

	out, err := execute(t, "", "assess", "-k", "select", "-e", "empresas", "--filter", "id", "--strict")
	require.NoError(t, err)
	assert.JSONEq(t, `{"warnings":[]}`, out)

	_, err = execute(t, "", "assess", "-k", "merge", "-e", "empresas")
	assert.ErrorContains(t, err, "unsupported kind")
}

func TestCatalogPrintsLoadableYAML(t *testing.T) {
	out, err := execute(t, "", "catalog")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	cat, err := catalog.Load(path)
	require.NoError(t, err)
	assert.Equal(t, catalog.Default().EntityTypes(), cat.EntityTypes())
}

func TestHandlerServesProbesMetricsAndAPI(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	guard, err := governance.New(context.Background(), governance.DefaultConfig(),
		governance.WithSink(sink.NewMemorySink()),
		governance.WithMetrics(m),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = guard.Close(context.Background()) })

	h := newHandler((&rootOptions{}).logger(&bytes.Buffer{}), guard, reg, m)
	get := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusOK, get(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, get(http.MethodGet, "/readyz", "").Code)

	rec := get(http.MethodPost, "/v1/validate/insert", `{"entity_type":"empresas","records":[{}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dataguard_validation_verdicts_total")
	assert.Contains(t, rec.Body.String(), `route="POST /v1/validate/insert"`)
}
