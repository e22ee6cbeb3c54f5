package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate"
	"github.com/goliatone/go-tablestate/pkg/prefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contactForm = `{
	"data": {
		"id": 12,
		"slug": "contact",
		"is_pro": true,
		"enable_partial_submissions": true,
		"properties": [
			{"id": "name", "name": "Name", "type": "text"},
			{"id": "note", "name": "Note", "type": "nf-text"},
			{"id": "email", "name": "Email", "type": "email"}
		],
		"removedProperties": [{"id": "phone", "name": "Phone", "type": "phone"}]
	}
}`

type testServer struct {
	*httptest.Server
	registry *Registry
	backend  *prefs.MemoryBackend
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	backend := prefs.NewMemoryBackend()
	open := func(ctx context.Context, table string) (*prefs.Store, error) {
		return prefs.Open(ctx, backend, prefs.Ref{Table: table, Scope: prefs.UserScope("tester")})
	}
	registry := NewRegistry(open, logr.Discard(), tablestate.WithActions(true), tablestate.WithClientRendered(true))
	cfg.Logger = logr.Discard()
	srv := httptest.NewServer(NewRouter(registry, cfg))
	t.Cleanup(func() {
		srv.Close()
		_ = registry.Close()
	})
	return &testServer{Server: srv, registry: registry, backend: backend}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (s *testServer) state(t *testing.T, method, path, body string, wantStatus int) tablestate.TableState {
	t.Helper()
	resp, raw := s.do(t, method, path, body)
	require.Equal(t, wantStatus, resp.StatusCode, string(raw))
	var state tablestate.TableState
	require.NoError(t, json.Unmarshal(raw, &state))
	return state
}

func ids(columns []tablestate.Column) []string {
	out := make([]string, 0, len(columns))
	for _, column := range columns {
		out = append(out, column.ID)
	}
	return out
}

func TestPutFormRegistersTable(t *testing.T) {
	srv := newTestServer(t, Config{})

	state := srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)

	assert.Equal(t, "12", state.Table)
	assert.Equal(t, []string{"name", "email", "phone", "created_at", "status", "actions"}, ids(state.Columns))
	assert.Equal(t, map[string]bool{"name": true, "email": true, "phone": false, "created_at": true}, state.Visibility)
	assert.Equal(t, []string{"actions"}, state.Pinning.Right)
	assert.Equal(t, 80, state.Sizing["actions"])

	resp, raw := srv.do(t, http.MethodGet, "/forms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"tables": ["12"]}`, string(raw))
}

func TestPutFormRejectsBadPayloads(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp, _ := srv.do(t, http.MethodPut, "/forms/99/form", contactForm)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, raw := srv.do(t, http.MethodPut, "/forms/1/form", `{"id": "1", "properties": [{"type": "text"}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(raw), "has no id")

	resp, _ = srv.do(t, http.MethodPut, "/forms/1/form", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownTableAndColumn(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp, _ := srv.do(t, http.MethodGet, "/forms/nope/columns", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)
	resp, raw := srv.do(t, http.MethodPost, "/forms/12/columns/note/visibility", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "unknown column")
}

func TestColumnToggles(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)

	state := srv.state(t, http.MethodPost, "/forms/12/columns/phone/visibility", "", http.StatusOK)
	assert.True(t, state.Visibility["phone"])

	state = srv.state(t, http.MethodPost, "/forms/12/columns/email/wrap", "", http.StatusOK)
	assert.True(t, state.Wrapping["email"])

	state = srv.state(t, http.MethodPost, "/forms/12/columns/email/pin", "", http.StatusOK)
	assert.Equal(t, []string{"email"}, state.Pinning.Left)

	state = srv.state(t, http.MethodPost, "/forms/12/columns/actions/pin", "", http.StatusOK)
	assert.Equal(t, []string{"email"}, state.Pinning.Left)
	assert.Equal(t, []string{"actions"}, state.Pinning.Right)
}

func TestBulkVisibilityAndPinning(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)

	state := srv.state(t, http.MethodPut, "/forms/12/visibility", `{"name": false, "phone": true}`, http.StatusOK)
	assert.False(t, state.Visibility["name"])
	assert.True(t, state.Visibility["phone"])

	state = srv.state(t, http.MethodPut, "/forms/12/pinning", `{"left": ["email", "name"], "right": []}`, http.StatusOK)
	assert.Equal(t, []string{"name", "email"}, state.Pinning.Left)

	resp, _ := srv.do(t, http.MethodPut, "/forms/12/pinning", `{"middle": []}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrderAndResize(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)

	state := srv.state(t, http.MethodPut, "/forms/12/columns/created_at/order", `{"index": 0}`, http.StatusOK)
	assert.Equal(t, []string{"created_at", "name", "email", "phone", "status", "actions"}, ids(state.Columns))

	resp, _ := srv.do(t, http.MethodPut, "/forms/12/columns/name/order", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	state = srv.state(t, http.MethodPut, "/forms/12/columns/name/size", `{"size": 5000}`, http.StatusAccepted)
	assert.Equal(t, tablestate.MaxColumnSize, state.Sizing["name"])

	resp, raw := srv.do(t, http.MethodPut, "/forms/12/columns/actions/size", `{"size": 300}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(raw), "cannot be resized")

	require.NoError(t, srv.registry.Close())
	snapshot, _, ok, err := srv.backend.Load(context.Background(), prefs.Ref{Table: "12", Scope: prefs.UserScope("tester")})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tablestate.MaxColumnSize, snapshot.GlobalSizing["name"])
}

func TestResets(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)
	srv.state(t, http.MethodPost, "/forms/12/columns/name/visibility", "", http.StatusOK)
	srv.state(t, http.MethodPost, "/forms/12/columns/email/visibility", "", http.StatusOK)

	state := srv.state(t, http.MethodDelete, "/forms/12/columns/name/preferences", "", http.StatusOK)
	assert.True(t, state.Visibility["name"])
	assert.False(t, state.Visibility["email"])

	state = srv.state(t, http.MethodDelete, "/forms/12/preferences", "", http.StatusOK)
	assert.True(t, state.Visibility["email"])
}

func TestFormReplacementKeepsPreferences(t *testing.T) {
	srv := newTestServer(t, Config{})
	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)
	srv.state(t, http.MethodPost, "/forms/12/columns/email/visibility", "", http.StatusOK)

	state := srv.state(t, http.MethodPut, "/forms/12/form", `{"id": "12", "properties": [{"id": "email", "name": "Email", "type": "email"}]}`, http.StatusOK)
	assert.Equal(t, []string{"email", "created_at", "actions"}, ids(state.Columns))
	assert.False(t, state.Visibility["email"])
}

func TestMutationsAreRateLimited(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}})

	srv.state(t, http.MethodPut, "/forms/12/form", contactForm, http.StatusOK)
	srv.state(t, http.MethodPost, "/forms/12/columns/email/wrap", "", http.StatusOK)

	resp, raw := srv.do(t, http.MethodPost, "/forms/12/columns/email/wrap", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.JSONEq(t, `{"code": 429, "message": "rate limit exceeded"}`, string(raw))

	resp, _ = srv.do(t, http.MethodGet, "/forms/12/columns", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Config{CORSOrigins: []string{"https://app.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/forms/12/visibility", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
