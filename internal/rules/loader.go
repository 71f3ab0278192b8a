package rules

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRules []byte

// Load resolves the rule set: an explicit path when given, else the user
// override when present, else the embedded default. A missing override
// falls back silently; an unreadable or invalid one is a hard error.
func Load(explicit string) (*Set, error) {
	if explicit != "" {
		return LoadFile(explicit)
	}

	if user := UserRulesPath(); user != "" {
		if _, err := os.Stat(user); err == nil {
			return LoadFile(user)
		}
	}

	return Parse(defaultRules, "embedded")
}

// UserRulesPath returns the conventional override location,
// ~/.openclaw-inspector/rules.yaml.
func UserRulesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".openclaw-inspector", "rules.yaml")
}

// LoadFile reads and compiles one rules file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes and compiles a rules document. Source is used in error
// messages and recorded on the set.
func Parse(data []byte, source string) (*Set, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", source, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", source)
	}

	set, err := Compile(doc.Rules, source)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", source, err)
	}
	return set, nil
}

// Default compiles the embedded rule set. It is validated by tests, so a
// failure here is a build defect; callers treat it as fatal.
func Default() (*Set, error) {
	return Parse(defaultRules, "embedded")
}
