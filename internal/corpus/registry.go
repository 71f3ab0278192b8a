package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RegistryName is the per-directory file the agent maintains to track its
// live sessions. Session files present on disk but absent from it are
// orphans.
const RegistryName = "sessions.json"

type registryEntry struct {
	SessionID string `json:"sessionId"`
	Label     string `json:"label,omitempty"`
}

func loadRegistry(dir string) (map[string]registryEntry, error) {
	path := filepath.Join(dir, RegistryName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var reg map[string]registryEntry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	return reg, nil
}

// applyRegistry flags orphans and copies registry labels onto one
// directory's sessions. No registry file means no orphan detection; a
// broken one is a warning and equally detects nothing.
func applyRegistry(dir string, sessions []*Session, res *ListResult) {
	reg, err := loadRegistry(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			res.Warnings = append(res.Warnings, err)
		}
		return
	}

	byID := make(map[string]registryEntry, len(reg))
	keys := make(map[string]bool, len(reg))
	for key, entry := range reg {
		keys[key] = true
		if entry.SessionID != "" {
			byID[entry.SessionID] = entry
		}
	}

	for _, s := range sessions {
		if entry, ok := byID[s.ID]; ok && s.ID != "" {
			s.Label = entry.Label
			continue
		}
		if keys[s.Stem()] {
			s.Label = reg[s.Stem()].Label
			continue
		}
		if !s.Deleted {
			s.Orphan = true
		}
	}
}
