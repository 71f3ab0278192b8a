package scan

import (
	"sort"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/rules"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

const commandCap = 200

// Hit is one flagged occurrence of a risky action within a session.
type Hit struct {
	MsgID    string `json:"msgId"`
	Command  string `json:"command"`
	Category string `json:"category"`
	Severity string `json:"severity"`
	Label    string `json:"label"`
}

// dedupKey enforces at most one pattern hit per (category, matched string)
// pair within one message.
type dedupKey struct {
	category string
	value    string
}

// Scan runs the rule set over one parsed session and returns its hits,
// ordered by message position, then block and string encounter order. A
// session with no hits returns an empty, non-nil slice.
func Scan(doc *session.Document, set *rules.Set) []Hit {
	hits := []Hit{}
	for i := range doc.Entries {
		entry := &doc.Entries[i]
		if entry.Type != session.TypeMessage {
			continue
		}
		hits = append(hits, scanMessage(entry, set)...)
	}
	return hits
}

// ScanAll scans every parsed session and returns the aggregate map keyed
// by session identity, omitting sessions with zero hits.
func ScanAll(docs map[string]*session.Document, set *rules.Set) map[string][]Hit {
	out := make(map[string][]Hit)
	for key, doc := range docs {
		if hits := Scan(doc, set); len(hits) > 0 {
			out[key] = hits
		}
	}
	return out
}

// HasCritical reports whether any hit carries critical severity.
func HasCritical(hits []Hit) bool {
	for _, h := range hits {
		if h.Severity == rules.SeverityCritical {
			return true
		}
	}
	return false
}

func scanMessage(entry *session.Entry, set *rules.Set) []Hit {
	var hits []Hit
	seen := make(map[dedupKey]bool)

	blocks := entry.Blocks()
	for i := range blocks {
		block := &blocks[i]
		if block.Type != session.BlockToolCall {
			continue
		}
		hits = append(hits, scanBlock(entry, block, set, seen)...)
	}
	return hits
}

// scanBlock evaluates one toolCall block. A panic while walking the
// argument tree skips this block only; the rest of the scan proceeds.
func scanBlock(entry *session.Entry, block *session.ContentBlock, set *rules.Set, seen map[dedupKey]bool) (hits []Hit) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug().
				Str("msgId", entry.ID).
				Str("tool", block.Name).
				Interface("panic", r).
				Msg("Skipping tool call block with unexpected argument shape")
			hits = nil
		}
	}()

	// a block carrying no argument object at all is inert, whichever
	// field name the writer would have used
	args := block.ToolArguments()
	if args == nil {
		return nil
	}

	for r := range set.Rules {
		rule := &set.Rules[r]
		if rule.Kind != rules.KindTool {
			continue
		}
		for _, tr := range rule.ToolRules {
			if tr.ToolName != block.Name {
				continue
			}
			action, hasAction := argAction(args)
			if tr.Actions == nil || (hasAction && containsString(tr.Actions, action)) {
				command := block.Name
				if hasAction {
					command = block.Name + ": " + action
				}
				hits = append(hits, Hit{
					MsgID:    entry.ID,
					Command:  command,
					Category: rule.Category,
					Severity: rule.Severity,
					Label:    rule.Label,
				})
			}
		}
	}

	toolName := block.Name
	if toolName == "" {
		toolName = "?"
	}

	for _, value := range collectStrings(args) {
		for r := range set.Rules {
			rule := &set.Rules[r]
			if rule.Kind != rules.KindPattern {
				continue
			}
			key := dedupKey{category: rule.Category, value: value}
			if seen[key] {
				continue
			}
			if _, ok := rule.MatchString(value); ok {
				seen[key] = true
				hits = append(hits, Hit{
					MsgID:    entry.ID,
					Command:  toolName + ": " + truncate(value, commandCap),
					Category: rule.Category,
					Severity: rule.Severity,
					Label:    rule.Label,
				})
			}
		}
	}

	return hits
}

// argAction extracts the tool's own action argument when present.
func argAction(args interface{}) (string, bool) {
	obj, ok := args.(map[string]interface{})
	if !ok {
		return "", false
	}
	action, ok := obj["action"].(string)
	return action, ok
}

// collectStrings walks the argument tree depth-first and returns every
// string value longer than two characters. Map keys are visited in sorted
// order so results are stable across runs.
func collectStrings(v interface{}) []string {
	var out []string
	walkValue(v, &out)
	return out
}

func walkValue(v interface{}, out *[]string) {
	switch val := v.(type) {
	case string:
		if len(val) > 2 {
			*out = append(*out, val)
		}
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkValue(val[k], out)
		}
	case []interface{}:
		for _, item := range val {
			walkValue(item, out)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
