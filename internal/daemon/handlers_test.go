package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/progress"
	"github.com/Lukavyi/openclaw-inspector/internal/rules"
	"github.com/Lukavyi/openclaw-inspector/internal/scan"
)

const testHeader = `{"type":"session","version":3,"id":"ses_a","timestamp":"2026-02-01T09:00:00Z","cwd":"/work"}`

var testLines = []string{
	testHeader,
	`{"type":"message","id":"m1","timestamp":"2026-02-01T09:00:01Z","message":{"role":"user","content":[{"type":"text","text":"clean up the temp dir\nplease"}]}}`,
	`{"type":"message","id":"m2","timestamp":"2026-02-01T09:00:02Z","message":{"role":"assistant","content":[{"type":"toolCall","id":"tc1","name":"exec","arguments":{"command":"rm -rf /tmp/x"}}]}}`,
	`{"type":"message","id":"m3","timestamp":"2026-02-01T09:00:03Z","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
}

var cleanLines = []string{
	`{"type":"session","version":3,"id":"ses_b","timestamp":"2026-02-01T10:00:00Z","cwd":"/work"}`,
	`{"type":"message","id":"n1","message":{"role":"user","content":[{"type":"text","text":"hello"}]}}`,
	`{"type":"message","id":"n2","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`,
}

func writeSessionFile(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write session file: %v", err)
	}
	return path
}

func testRuleSet(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.Compile([]rules.Rule{
		{
			Category: "destructive-fs",
			Severity: rules.SeverityCritical,
			Label:    "Destructive filesystem command",
			Patterns: []string{`rm\s+-rf`},
		},
		{
			Category:  "surveillance",
			Severity:  rules.SeverityWarning,
			ToolRules: []rules.ToolRule{{ToolName: "camera"}},
		},
	}, "test")
	if err != nil {
		t.Fatalf("Failed to compile rules: %v", err)
	}
	return set
}

func newTestState(t *testing.T) *State {
	t.Helper()
	root := t.TempDir()
	writeSessionFile(t, root, "dirty.jsonl", testLines)
	writeSessionFile(t, root, "clean.jsonl", cleanLines)

	store := progress.NewStore(filepath.Join(t.TempDir(), "progress.json"), 10*time.Millisecond)
	state := NewState(root, testRuleSet(t), progress.NewTracker(store), nil, nil)
	if err := state.Refresh(); err != nil {
		t.Fatalf("Failed to refresh state: %v", err)
	}
	return state
}

func newTestServer(t *testing.T) (*httptest.Server, *State) {
	t.Helper()
	state := newTestState(t)
	srv := NewServer("127.0.0.1:0", state, "test")
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, state
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var health HealthResponse
	resp := getJSON(t, ts.URL+"/api/health", &health)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if health.Status != "ok" || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var sessions []SessionSummary
	resp := getJSON(t, ts.URL+"/api/sessions", &sessions)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	byKey := map[string]SessionSummary{}
	for _, s := range sessions {
		byKey[s.Key] = s
	}

	dirty, ok := byKey["ses_a"]
	if !ok {
		t.Fatal("dirty session missing from listing")
	}
	if dirty.MessageCount != 3 || dirty.HitCount != 1 || !dirty.Critical {
		t.Errorf("dirty = %+v", dirty)
	}
	if dirty.Label != "clean up the temp dir" {
		t.Errorf("got Label=%q, want first user line", dirty.Label)
	}
	if dirty.Integrity != "4/4 lines parsed, 0 errors" {
		t.Errorf("got Integrity=%q", dirty.Integrity)
	}
	if dirty.UnreadCount != 3 || dirty.ReadAll {
		t.Errorf("got UnreadCount=%d ReadAll=%v, want all unread", dirty.UnreadCount, dirty.ReadAll)
	}

	if clean := byKey["ses_b"]; clean.HitCount != 0 || clean.Critical {
		t.Errorf("clean = %+v", clean)
	}
}

func TestSessionDetailEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var detail SessionDetail
	resp := getJSON(t, ts.URL+"/api/sessions/ses_a", &detail)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if len(detail.Entries) != 4 {
		t.Errorf("got %d entries, want 4", len(detail.Entries))
	}
	if len(detail.Hits) != 1 || detail.Hits[0].Command != "exec: rm -rf /tmp/x" {
		t.Errorf("hits = %+v", detail.Hits)
	}
	if detail.Progress.TotalMsgs != 3 {
		t.Errorf("progress = %+v", detail.Progress)
	}

	resp = getJSON(t, ts.URL+"/api/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown session, want 404", resp.StatusCode)
	}
}

func TestSessionHitsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var hits []scan.Hit
	resp := getJSON(t, ts.URL+"/api/sessions/ses_a/hits", &hits)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if len(hits) != 1 || hits[0].MsgID != "m2" || hits[0].Category != "destructive-fs" {
		t.Errorf("hits = %+v", hits)
	}

	resp = getJSON(t, ts.URL+"/api/sessions/nope/hits", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown session, want 404", resp.StatusCode)
	}
}

func TestMarkReadFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions/ses_a/read", `{"messageId":"m2"}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	var entry progress.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if entry.LastReadID != "m2" || entry.UnreadCount != 1 || entry.ReadAll {
		t.Errorf("entry = %+v", entry)
	}

	// the listing reflects the new read position
	var sessions []SessionSummary
	getJSON(t, ts.URL+"/api/sessions", &sessions)
	for _, s := range sessions {
		if s.Key == "ses_a" && s.UnreadCount != 1 {
			t.Errorf("got UnreadCount=%d after mark-read, want 1", s.UnreadCount)
		}
	}

	bad := postJSON(t, ts.URL+"/api/sessions/ses_a/read", `{broken`)
	_ = bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("got status %d for a bad body, want 400", bad.StatusCode)
	}

	missing := postJSON(t, ts.URL+"/api/sessions/nope/read", `{"messageId":"m2"}`)
	_ = missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("got status %d for unknown session, want 404", missing.StatusCode)
	}
}

func TestSetLabelEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions/ses_a/label", `{"label":"prod incident"}`)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}

	var sessions []SessionSummary
	getJSON(t, ts.URL+"/api/sessions", &sessions)
	for _, s := range sessions {
		if s.Key == "ses_a" && s.Label != "prod incident" {
			t.Errorf("got Label=%q, want the custom label to win", s.Label)
		}
	}
}

func TestProgressEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var snap map[string]progress.Entry
	resp := getJSON(t, ts.URL+"/api/progress", &snap)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if snap["ses_a"].TotalMsgs != 3 || snap["ses_b"].TotalMsgs != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDangersEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var dangers map[string][]scan.Hit
	resp := getJSON(t, ts.URL+"/api/dangers", &dangers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", resp.StatusCode)
	}
	if len(dangers) != 1 {
		t.Fatalf("got %d entries, want the clean session omitted", len(dangers))
	}
	if len(dangers["ses_a"]) != 1 {
		t.Errorf("dangers = %+v", dangers)
	}
}

func TestRulesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var resp RulesResponse
	r := getJSON(t, ts.URL+"/api/rules", &resp)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("got status %d", r.StatusCode)
	}
	if resp.Source != "test" || len(resp.Rules) != 2 {
		t.Fatalf("rules = %+v", resp)
	}

	kinds := map[string]string{}
	for _, rule := range resp.Rules {
		kinds[rule.Category] = rule.Kind
	}
	if kinds["destructive-fs"] != "pattern" || kinds["surveillance"] != "tool" {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestCORSHeaders(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/health", nil)
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/sessions", nil)
	optResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	_ = optResp.Body.Close()
	if optResp.StatusCode != http.StatusOK {
		t.Errorf("got status %d for OPTIONS, want 200", optResp.StatusCode)
	}
}
