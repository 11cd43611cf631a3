package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	espalier "github.com/aretw0/espalier"
	httpadapter "github.com/aretw0/espalier/internal/adapters/http"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/aretw0/espalier/pkg/template"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	renderer, err := template.NewStatic(map[string]string{
		"intro":       "Say something.",
		"await_input": "{{.actor_input}}",
	})
	require.NoError(t, err)

	reg := registry.New()
	reg.Register("identity", func(ctx context.Context, inv domain.Invocation) (string, error) {
		in, _ := inv.Data["actor_input"].(string)
		return in, nil
	})

	machine := &domain.Machine{
		Key:     "echo",
		Initial: "intro",
		States: map[string]*domain.StateDef{
			"intro":         {Kind: domain.KindUser, Template: "intro"},
			"echo_response": {Kind: domain.KindInvoker, Plan: domain.Atomic("identity")},
			"await_input":   {Kind: domain.KindUser, Template: "await_input"},
		},
		Transitions: []domain.Transition{
			{Event: "start", Source: "intro", Target: "echo_response"},
			{Event: "ai_extraction", Source: "echo_response", Target: "await_input"},
			{Event: "again", Source: "await_input", Target: "echo_response"},
		},
	}

	reg2 := prometheus.NewRegistry()
	e, err := espalier.New(
		espalier.WithMachine(machine),
		espalier.WithRenderer(renderer),
		espalier.WithRegistry(reg),
		espalier.WithMetrics(reg2),
	)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	srv := httptest.NewServer(httpadapter.NewHandler(e, reg2))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestServer_SessionRoundtrip(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions", map[string]string{"machine": "echo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started struct {
		SessionID   string   `json:"session_id"`
		Response    string   `json:"response"`
		NextActions []string `json:"next_actions"`
	}
	decodeInto(t, resp, &started)
	require.NotEmpty(t, started.SessionID)
	assert.Equal(t, "Say something.", started.Response)
	assert.Equal(t, []string{"start"}, started.NextActions)

	resp = postJSON(t, srv.URL+"/sessions/"+started.SessionID+"/events",
		map[string]string{"event": "start", "payload": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted struct {
		NextActions []string `json:"next_actions"`
	}
	decodeInto(t, resp, &submitted)
	assert.Equal(t, []string{espalier.ActionPoll}, submitted.NextActions)

	var status struct {
		Ready       bool     `json:"ready"`
		NextActions []string `json:"next_actions"`
		Error       string   `json:"error"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "session never became ready")
		res, err := http.Get(srv.URL + "/sessions/" + started.SessionID + "/status")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode)
		decodeInto(t, res, &status)
		if status.Ready {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, status.Error)
	assert.Equal(t, []string{"again"}, status.NextActions)

	res, err := http.Get(srv.URL + "/sessions/" + started.SessionID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var snap domain.Session
	decodeInto(t, res, &snap)
	assert.Equal(t, "await_input", snap.CurrentState)
	require.Len(t, snap.Dialogue, 3)
	assert.Equal(t, "hello", snap.Dialogue[2].Content)
}

func TestServer_RejectedEventIsConflict(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions", map[string]string{"machine": "echo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeInto(t, resp, &started)

	resp = postJSON(t, srv.URL+"/sessions/"+started.SessionID+"/events",
		map[string]string{"event": "bogus"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body struct {
		Error   string   `json:"error"`
		Allowed []string `json:"allowed_events"`
	}
	decodeInto(t, resp, &body)
	assert.Equal(t, []string{"start"}, body.Allowed)
	assert.Contains(t, body.Error, "bogus")
}

func TestServer_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions", map[string]string{"machine": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	res, err := http.Get(srv.URL + "/sessions/missing/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/missing", nil)
	require.NoError(t, err)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestServer_DeleteEndsSession(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/sessions", map[string]string{"machine": "echo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeInto(t, resp, &started)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/sessions/"+started.SessionID, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res.Body.Close()

	res, err = http.Get(srv.URL + "/sessions/" + started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestServer_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sessions", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res.Body.Close()
}
