package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agenticmail/agenticmail/internal/agent"
	"github.com/agenticmail/agenticmail/internal/clock"
	"github.com/agenticmail/agenticmail/internal/config"
	"github.com/agenticmail/agenticmail/internal/llm"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/internal/store"
	"github.com/agenticmail/agenticmail/pkg/models"
)

type stubClient struct{}

func (stubClient) Provider() string { return "stub" }

func (stubClient) Call(context.Context, llm.Request) (llm.Stream, error) {
	return llm.NewSliceStream([]llm.Delta{
		{Type: llm.DeltaText, Text: "hello from the stub"},
		{Type: llm.DeltaUsage, InputTokens: 5, OutputTokens: 3},
		{Type: llm.DeltaStop, Stop: models.StopEndTurn},
	}, nil), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *agent.Runtime, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.APIKeys = map[string]string{"anthropic": "test-key"}
	rt := agent.NewRuntime(cfg, st, agent.WithClientFactory(
		func(_, _, _ string) (llm.ModelClient, error) { return stubClient{}, nil },
	))
	t.Cleanup(rt.Stop)
	if err := rt.RegisterAgent(context.Background(), agent.AgentConfig{ID: "helper", OrgID: "org-1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	metrics := observability.NewMetrics()
	scheduler := agent.NewScheduler(st, rt, clock.Real(), nil, metrics)
	server := NewServer(Config{}, rt, scheduler, nil, metrics)
	ts := httptest.NewServer(server.http.Handler)
	t.Cleanup(ts.Close)
	return ts, rt, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestServer_Health(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestServer_SpawnAndErrorMapping(t *testing.T) {
	ts, _, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/agents/helper/sessions", map[string]string{"message": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("no session id returned")
	}
	if _, err := st.GetSession(context.Background(), created.ID); err != nil {
		t.Errorf("session not persisted: %v", err)
	}

	// Unknown agent maps to 404.
	resp = postJSON(t, ts.URL+"/v1/agents/ghost/sessions", map[string]string{"message": "hi"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	// Malformed body maps to 400.
	badResp, err := http.Post(ts.URL+"/v1/agents/helper/sessions", "application/json", bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", badResp.StatusCode)
	}
}

func TestServer_SendMessageConflictOnTerminal(t *testing.T) {
	ts, _, st := newTestServer(t)

	sess, err := st.CreateSession(context.Background(), "helper", "org-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.UpdateSession(context.Background(), sess.ID, store.SessionUpdate{
		Status: store.StatusPtr(models.StatusCompleted),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	resp := postJSON(t, ts.URL+"/v1/sessions/"+sess.ID+"/messages", map[string]string{"message": "hello?"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestServer_ScheduleFollowUp(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/followups", map[string]any{
		"agent_id":   "helper",
		"message":    "check back",
		"execute_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	// Validation failures map to 400.
	resp = postJSON(t, ts.URL+"/v1/followups", map[string]any{"message": "no agent"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	// A failed request must show up in the error counter.
	errResp := postJSON(t, ts.URL+"/v1/agents/ghost/sessions", map[string]string{"message": "hi"})
	errResp.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "agenticmail_errors_total") {
		t.Error("error counter missing from /metrics output")
	}
}
