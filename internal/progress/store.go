package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

// DefaultDebounce is how long the store coalesces rapid mutations before
// writing.
const DefaultDebounce = 500 * time.Millisecond

const documentVersion = 1

// document is the on-disk progress file shape.
type document struct {
	Version  int              `json:"version"`
	Sessions map[string]Entry `json:"sessions"`
}

// Store persists the progress map as one JSON document. Saves are
// fire-and-forget: each hands the store a fresh snapshot, and a trailing
// debounce timer writes the latest one. Failures are logged, never
// returned to the mutation path.
type Store struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]Entry
}

// NewStore creates a store writing to path. A non-positive debounce uses
// the default.
func NewStore(path string, debounce time.Duration) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{path: path, debounce: debounce}
}

// Load reads the persisted document. A missing file is an empty map, not
// an error.
func (s *Store) Load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Entry{}, nil
		}
		return map[string]Entry{}, fmt.Errorf("failed to read progress file %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return map[string]Entry{}, fmt.Errorf("failed to parse progress file %s: %w", s.path, err)
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]Entry{}
	}
	return doc.Sessions, nil
}

// Save schedules snapshot for persistence, replacing any write still
// pending. The snapshot must not be mutated after handoff; the tracker
// always passes freshly built maps.
func (s *Store) Save(snapshot map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = snapshot
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushTimer)
	} else {
		s.timer.Reset(s.debounce)
	}
}

// Flush writes any pending snapshot immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		s.write(pending)
	}
}

func (s *Store) flushTimer() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if pending != nil {
		s.write(pending)
	}
}

// write replaces the document atomically: temp file in the same directory,
// then rename over the target.
func (s *Store) write(snapshot map[string]Entry) {
	data, err := json.MarshalIndent(document{
		Version:  documentVersion,
		Sessions: snapshot,
	}, "", "  ")
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to encode progress document")
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Warn().Err(err).Str("path", s.path).Msg("Failed to create progress directory")
		return
	}

	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		logger.Warn().Err(err).Str("path", s.path).Msg("Failed to create progress temp file")
		return
	}

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		logger.Warn().Str("path", s.path).Msg("Failed to write progress temp file")
		return
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		logger.Warn().Err(err).Str("path", s.path).Msg("Failed to replace progress file")
	}
}
