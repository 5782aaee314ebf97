package redact

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensitive(t *testing.T) {
	for _, name := range []string{"password", "Password", "user_password", "token", "accessToken", "client_secret", "api_key", "privateKey", "clave"} {
		assert.True(t, Sensitive(name), name)
	}
	for _, name := range []string{"email", "rut", "keyword", "razon_social", ""} {
		assert.False(t, Sensitive(name), name)
	}
}

func TestSnapshotRedactsNested(t *testing.T) {
	in := map[string]any{
		"email":    "a@b.cl",
		"password": "hunter2",
		"profile": map[string]any{
			"token": "abc",
			"name":  "Ana",
		},
		"items": []any{map[string]any{"secret": "s"}},
	}
	out := Snapshot(in, AuditMaxLen)

	assert.Equal(t, Marker, out["password"])
	profile := out["profile"].(map[string]any)
	assert.Equal(t, Marker, profile["token"])
	assert.Equal(t, "Ana", profile["name"])
	items := out["items"].([]any)
	assert.Equal(t, Marker, items[0].(map[string]any)["secret"])

	// input untouched
	assert.Equal(t, "hunter2", in["password"])
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 150)
	got := Truncate(long, PreviewMaxLen)
	require.True(t, strings.HasPrefix(got, strings.Repeat("x", 100)))
	assert.Contains(t, got, "[truncated 50 chars]")
	assert.Equal(t, "short", Truncate("short", PreviewMaxLen))
}

func TestSnapshotNil(t *testing.T) {
	assert.Nil(t, Snapshot(nil, 10))
}

func TestField(t *testing.T) {
	assert.Equal(t, Marker, Field("api_key", "sk-1", AuditMaxLen))
	assert.Equal(t, "abc...[truncated 2 chars]", Field("nombre", "abcde", 3))
	assert.Equal(t, 42, Field("edad", 42, 3))
}

type credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func TestSnapshotRedactsTypedContainers(t *testing.T) {
	in := map[string]any{
		"contacts": []map[string]any{{"nombre": "Ana", "password": "hunter2"}},
		"creds":    map[string]string{"token": "tok-123", "scope": "read"},
		"by_id":    map[string]map[string]string{"7": {"client_secret": "s3"}},
		"pairs":    [][]map[string]any{{{"api_key": "k-1"}}},
		"login":    &credentials{User: "ana", Password: "pw-1"},
		"blob":     []byte("raw"),
	}
	out := Snapshot(in, AuditMaxLen)

	contacts := out["contacts"].([]any)
	assert.Equal(t, Marker, contacts[0].(map[string]any)["password"])
	assert.Equal(t, "Ana", contacts[0].(map[string]any)["nombre"])

	creds := out["creds"].(map[string]any)
	assert.Equal(t, Marker, creds["token"])
	assert.Equal(t, "read", creds["scope"])

	byID := out["by_id"].(map[string]any)
	assert.Equal(t, Marker, byID["7"].(map[string]any)["client_secret"])

	pairs := out["pairs"].([]any)
	assert.Equal(t, Marker, pairs[0].([]any)[0].(map[string]any)["api_key"])

	login := out["login"].(map[string]any)
	assert.Equal(t, Marker, login["password"])
	assert.Equal(t, "ana", login["user"])

	assert.Equal(t, []byte("raw"), out["blob"])

	for _, secret := range []string{"hunter2", "tok-123", "s3", "k-1", "pw-1"} {
		assert.NotContains(t, fmt.Sprint(out), secret)
	}
}

func TestFieldWalksNestedValue(t *testing.T) {
	got := Field("contacts", []map[string]any{{"token": "t"}}, AuditMaxLen)
	assert.Equal(t, []any{map[string]any{"token": Marker}}, got)
}
