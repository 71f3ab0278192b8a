package scan

import (
	"strings"
	"testing"

	"github.com/Lukavyi/openclaw-inspector/internal/rules"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

func mustRules(t *testing.T, raw []rules.Rule) *rules.Set {
	t.Helper()
	set, err := rules.Compile(raw, "test")
	if err != nil {
		t.Fatalf("Failed to compile rules: %v", err)
	}
	return set
}

func parseDoc(t *testing.T, jsonl string) *session.Document {
	t.Helper()
	doc := session.Parse(strings.NewReader(jsonl))
	if len(doc.Errors) != 0 {
		t.Fatalf("Fixture did not parse cleanly: %v", doc.Errors)
	}
	return doc
}

func TestScanPatternRule(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "destructive-fs",
		Severity: rules.SeverityCritical,
		Label:    "Destructive file operation",
		Patterns: []string{`rm\s+-[a-zA-Z]*r`},
	}})

	doc := parseDoc(t, `{"type":"session","id":"s1"}
{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","id":"t1","name":"exec","arguments":{"command":"rm -rf /tmp/x"}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit, got %d: %+v", len(hits), hits)
	}
	hit := hits[0]
	if hit.MsgID != "m1" {
		t.Errorf("MsgID = %q, want m1", hit.MsgID)
	}
	if hit.Category != "destructive-fs" || hit.Severity != "critical" {
		t.Errorf("hit = %s/%s, want destructive-fs/critical", hit.Category, hit.Severity)
	}
	if hit.Command != "exec: rm -rf /tmp/x" {
		t.Errorf("Command = %q, want %q", hit.Command, "exec: rm -rf /tmp/x")
	}
}

func TestScanToolRule(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category:  "surveillance",
		Severity:  rules.SeverityWarning,
		Label:     "Browser surveillance",
		ToolRules: []rules.ToolRule{{ToolName: "browser", Actions: []string{"screenshot", "snapshot"}}},
	}})

	tests := []struct {
		name        string
		line        string
		wantHits    int
		wantCommand string
	}{
		{
			name:        "listed action",
			line:        `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"browser","arguments":{"action":"screenshot","url":"https://example.com"}}]}}`,
			wantHits:    1,
			wantCommand: "browser: screenshot",
		},
		{
			name:     "unlisted action",
			line:     `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"browser","arguments":{"action":"navigate","url":"https://example.com"}}]}}`,
			wantHits: 0,
		},
		{
			name:     "different tool",
			line:     `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"action":"screenshot"}}]}}`,
			wantHits: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := Scan(parseDoc(t, tt.line+"\n"), set)
			if len(hits) != tt.wantHits {
				t.Fatalf("Expected %d hits, got %d: %+v", tt.wantHits, len(hits), hits)
			}
			if tt.wantHits > 0 && hits[0].Command != tt.wantCommand {
				t.Errorf("Command = %q, want %q", hits[0].Command, tt.wantCommand)
			}
		})
	}
}

func TestScanToolRuleWildcard(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category:  "surveillance",
		Severity:  rules.SeverityWarning,
		Label:     "Camera use",
		ToolRules: []rules.ToolRule{{ToolName: "camera"}},
	}})

	tests := []struct {
		name        string
		line        string
		wantHits    int
		wantCommand string
	}{
		{
			name:        "any action matches",
			line:        `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"camera","arguments":{"action":"record"}}]}}`,
			wantHits:    1,
			wantCommand: "camera: record",
		},
		{
			name:        "no action argument",
			line:        `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"camera","arguments":{}}]}}`,
			wantHits:    1,
			wantCommand: "camera",
		},
		{
			name:     "no argument object at all",
			line:     `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"camera"}]}}`,
			wantHits: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := Scan(parseDoc(t, tt.line+"\n"), set)
			if len(hits) != tt.wantHits {
				t.Fatalf("Expected %d hits, got %d: %+v", tt.wantHits, len(hits), hits)
			}
			if tt.wantHits > 0 && hits[0].Command != tt.wantCommand {
				t.Errorf("Command = %q, want %q", hits[0].Command, tt.wantCommand)
			}
		})
	}
}

func TestScanPatternDedup(t *testing.T) {
	set := mustRules(t, []rules.Rule{
		{
			Category: "destructive-fs",
			Severity: rules.SeverityCritical,
			Patterns: []string{`rm\s+-r`},
		},
		{
			Category: "cleanup",
			Severity: rules.SeverityWarning,
			Patterns: []string{`rm\s+-r`},
		},
	})

	// the same literal string in three nested locations of one message
	doc := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /tmp/x","env":{"note":"rm -rf /tmp/x"},"list":["rm -rf /tmp/x"]}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits (one per category), got %d: %+v", len(hits), hits)
	}
	if hits[0].Category == hits[1].Category {
		t.Errorf("Expected distinct categories, got %s twice", hits[0].Category)
	}

	// two different matching strings produce a hit each
	doc = parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"a":"rm -r one","b":"rm -r two"}}]}}
`)
	hits = Scan(doc, set)
	if len(hits) != 4 {
		t.Errorf("Expected 4 hits (2 strings x 2 categories), got %d: %+v", len(hits), hits)
	}

	// dedup is per message, not per session
	doc = parseDoc(t, `{"type":"message","id":"m1","message":{"role":"user","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /a"}}]}}
{"type":"message","id":"m2","message":{"role":"user","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /a"}}]}}
`)
	hits = Scan(doc, set)
	if len(hits) != 4 {
		t.Errorf("Expected 4 hits across two messages, got %d: %+v", len(hits), hits)
	}
}

func TestScanShortStringsExcluded(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityWarning,
		Patterns: []string{`rm`},
	}})

	doc := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"a":"rm","b":"rm "}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit (two-char string excluded), got %d: %+v", len(hits), hits)
	}
	if hits[0].Command != "exec: rm " {
		t.Errorf("Command = %q, want %q", hits[0].Command, "exec: rm ")
	}
}

func TestScanMissingToolName(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityWarning,
		Patterns: []string{`curl`},
	}})

	doc := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","arguments":{"command":"curl https://example.com"}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(hits))
	}
	if !strings.HasPrefix(hits[0].Command, "?: ") {
		t.Errorf("Command = %q, want ? placeholder for missing tool name", hits[0].Command)
	}
}

func TestScanOrderingAndSkips(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityCritical,
		Patterns: []string{`rm -rf`},
	}})

	doc := parseDoc(t, `{"type":"session","id":"s1"}
{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /a"}}]}}
{"type":"message","id":"m2","message":{"role":"assistant","content":[{"type":"text","text":"rm -rf inside plain text is not scanned"}]}}
{"type":"model_change","modelId":"claw-3"}
{"type":"message","id":"m3"}
{"type":"message","id":"m4","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /b"}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d: %+v", len(hits), hits)
	}
	if hits[0].MsgID != "m1" || hits[1].MsgID != "m4" {
		t.Errorf("hit order = %s, %s, want m1, m4", hits[0].MsgID, hits[1].MsgID)
	}
}

func TestScanLegacyArgsField(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityCritical,
		Patterns: []string{`rm -rf`},
	}})

	doc := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","args":{"command":"rm -rf /x"}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 1 || hits[0].Command != "exec: rm -rf /x" {
		t.Errorf("Expected a hit through the legacy args field, got %+v", hits)
	}
}

func TestScanCommandTruncation(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityWarning,
		Patterns: []string{`rm -rf`},
	}})

	long := "rm -rf /" + strings.Repeat("x", 400)
	doc := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"assistant","content":[{"type":"toolCall","name":"exec","arguments":{"command":"`+long+`"}}]}}
`)

	hits := Scan(doc, set)
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(hits))
	}
	want := "exec: " + long[:commandCap-3] + "..."
	if hits[0].Command != want {
		t.Errorf("Command length = %d, want matched string capped at %d", len(hits[0].Command), commandCap)
	}
}

func TestScanAllOmitsCleanSessions(t *testing.T) {
	set := mustRules(t, []rules.Rule{{
		Category: "c",
		Severity: rules.SeverityCritical,
		Patterns: []string{`rm -rf`},
	}})

	dirty := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"user","content":[{"type":"toolCall","name":"exec","arguments":{"command":"rm -rf /"}}]}}
`)
	clean := parseDoc(t, `{"type":"message","id":"m1","message":{"role":"user","content":[{"type":"text","text":"hello"}]}}
`)

	if hits := Scan(clean, set); hits == nil || len(hits) != 0 {
		t.Errorf("Scan(clean) = %v, want empty non-nil slice", hits)
	}

	all := ScanAll(map[string]*session.Document{"dirty": dirty, "clean": clean}, set)
	if len(all) != 1 {
		t.Fatalf("Expected 1 session in aggregate, got %d", len(all))
	}
	if _, ok := all["dirty"]; !ok {
		t.Error("aggregate missing the session with hits")
	}
}

func TestHasCritical(t *testing.T) {
	if HasCritical([]Hit{{Severity: "warning"}}) {
		t.Error("HasCritical() = true for warnings only")
	}
	if !HasCritical([]Hit{{Severity: "warning"}, {Severity: "critical"}}) {
		t.Error("HasCritical() = false with a critical hit present")
	}
}
