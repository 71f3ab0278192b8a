package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Severity levels a rule may carry.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Kind discriminates the two rule variants after validation; every
// compiled rule is exactly one of these.
type Kind int

const (
	KindPattern Kind = iota
	KindTool
)

func (k Kind) String() string {
	if k == KindTool {
		return "tool"
	}
	return "pattern"
}

// Rule is one detection definition as written in the rules file. A rule
// carries either Patterns or ToolRules, never both.
type Rule struct {
	Category  string     `yaml:"category" json:"category"`
	Severity  string     `yaml:"severity" json:"severity"`
	Label     string     `yaml:"label" json:"label"`
	Patterns  []string   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	ToolRules []ToolRule `yaml:"toolRules,omitempty" json:"toolRules,omitempty"`
}

// ToolRule flags invocations of a named tool. A nil Actions list is the
// wildcard: any invocation of the tool hits, action argument or not. An
// explicit empty list matches nothing.
type ToolRule struct {
	ToolName string   `yaml:"toolName" json:"toolName"`
	Actions  []string `yaml:"actions" json:"actions"`
}

// Document is the on-disk rules file shape.
type Document struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Compiled is one validated rule with its patterns pre-compiled
// case-insensitively.
type Compiled struct {
	Rule
	Kind     Kind
	Compiled []*regexp.Regexp
}

// MatchString tests s against the rule's patterns in definition order and
// returns the first matching pattern source.
func (c *Compiled) MatchString(s string) (string, bool) {
	for _, re := range c.Compiled {
		if re.MatchString(s) {
			return re.String(), true
		}
	}
	return "", false
}

// Set is a compiled rule set. Immutable once built; shared read-only by
// every scan.
type Set struct {
	Rules  []Compiled
	Source string
	hash   string
}

// Hash identifies the rule definitions for cache keying. Two sets loaded
// from different locations but defining the same rules share a hash.
func (s *Set) Hash() string {
	return s.hash
}

// Compile validates raw rules and pre-compiles their patterns. Any invalid
// rule fails the whole set: a rules file that silently loses detections is
// worse than a startup failure.
func Compile(raw []Rule, source string) (*Set, error) {
	set := &Set{Source: source}

	for i, r := range raw {
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d: missing category", i+1)
		}
		if r.Severity != SeverityCritical && r.Severity != SeverityWarning {
			return nil, fmt.Errorf("rule %d (%s): invalid severity %q", i+1, r.Category, r.Severity)
		}
		hasPatterns := len(r.Patterns) > 0
		hasTools := len(r.ToolRules) > 0
		if hasPatterns == hasTools {
			return nil, fmt.Errorf("rule %d (%s): exactly one of patterns or toolRules required", i+1, r.Category)
		}

		c := Compiled{Rule: r}
		if hasPatterns {
			c.Kind = KindPattern
			for _, p := range r.Patterns {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					return nil, fmt.Errorf("rule %d (%s): invalid pattern %q: %w", i+1, r.Category, p, err)
				}
				c.Compiled = append(c.Compiled, re)
			}
		} else {
			c.Kind = KindTool
			for j, tr := range r.ToolRules {
				if tr.ToolName == "" {
					return nil, fmt.Errorf("rule %d (%s): toolRule %d missing toolName", i+1, r.Category, j+1)
				}
			}
		}
		set.Rules = append(set.Rules, c)
	}

	set.hash = hashRules(raw)
	return set, nil
}

func hashRules(raw []Rule) string {
	data, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
