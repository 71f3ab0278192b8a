package daemon

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Lukavyi/openclaw-inspector/internal/corpus"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/progress"
	"github.com/Lukavyi/openclaw-inspector/internal/rules"
	"github.com/Lukavyi/openclaw-inspector/internal/scan"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

// ErrUnknownSession is returned for keys not present in the corpus.
var ErrUnknownSession = errors.New("unknown session")

const titleCap = 120

// State owns the daemon's view of the corpus: the current session listing,
// per-file scan records, read progress, and the active rule set. Handlers
// read through it; the watcher loop writes through it.
type State struct {
	root     string
	rules    *rules.Set
	tracker  *progress.Tracker
	index    *corpus.Index // nil disables the cache, every load is a cold scan
	metadata map[string]corpus.Metadata

	mu       sync.RWMutex
	sessions []*corpus.Session
	records  map[string]*corpus.Record
}

// NewState assembles the daemon state. Call Refresh before serving.
func NewState(root string, set *rules.Set, tracker *progress.Tracker, index *corpus.Index, metadata map[string]corpus.Metadata) *State {
	return &State{
		root:     root,
		rules:    set,
		tracker:  tracker,
		index:    index,
		metadata: metadata,
		records:  make(map[string]*corpus.Record),
	}
}

// Root returns the watched store root.
func (s *State) Root() string {
	return s.root
}

// RuleSet returns the active rule set.
func (s *State) RuleSet() *rules.Set {
	return s.rules
}

// Refresh re-enumerates the corpus, migrates progress identities, and
// brings the scan records up to date. Unchanged files are served from the
// index; changed or new ones are parsed and scanned.
func (s *State) Refresh() error {
	res, err := corpus.List(s.root)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn().Err(w).Msg("Corpus warning")
	}

	records := make(map[string]*corpus.Record, len(res.Sessions))
	keep := make(map[string]bool, len(res.Sessions))
	for _, sess := range res.Sessions {
		s.tracker.Migrate(sess.Key, sess.LegacyKeys()...)
		if rec := s.load(sess); rec != nil {
			records[sess.Path] = rec
		}
		keep[sess.Path] = true
	}

	if s.index != nil {
		if _, err := s.index.Prune(keep); err != nil {
			logger.Warn().Err(err).Msg("Failed to prune scan index")
		}
	}

	s.mu.Lock()
	s.sessions = res.Sessions
	s.records = records
	s.mu.Unlock()
	return nil
}

// load returns the scan record for one session file: the cached one while
// the file and rules are unchanged, a fresh parse + scan otherwise. A file
// that vanished underneath us yields nil.
func (s *State) load(sess *corpus.Session) *corpus.Record {
	mtime := sess.ModTime.UnixNano()
	if s.index != nil {
		if rec, ok := s.index.Lookup(sess.Path, mtime, sess.Size, s.rules.Hash()); ok {
			// a cache hit still needs progress seeded on first sight
			if _, tracked := s.tracker.Get(sess.Key); tracked {
				return rec
			}
		}
	}

	doc, err := session.ParseFile(sess.Path)
	if err != nil {
		logger.Warn().Err(err).Str("path", sess.Path).Msg("Failed to read session file")
		return nil
	}
	return s.store(sess, doc)
}

// store scans a freshly parsed document, reconciles progress, and caches
// the resulting record.
func (s *State) store(sess *corpus.Session, doc *session.Document) *corpus.Record {
	msgs := doc.Messages()
	rec := &corpus.Record{
		Path:         sess.Path,
		Mtime:        sess.ModTime.UnixNano(),
		Size:         sess.Size,
		RulesHash:    s.rules.Hash(),
		SessionID:    sess.ID,
		StartedAt:    sess.StartedAt,
		CWD:          sess.CWD,
		Title:        firstUserLine(msgs),
		MessageCount: len(msgs),
		TotalLines:   doc.TotalLines,
		ParseErrors:  len(doc.Errors),
		Hits:         scan.Scan(doc, s.rules),
	}

	s.tracker.Recompute(sess.Key, msgs)

	if s.index != nil {
		if err := s.index.Put(rec); err != nil {
			logger.Warn().Err(err).Str("path", sess.Path).Msg("Failed to store scan record")
		}
	}
	return rec
}

// Sessions composes the listing rows from the last refresh.
func (s *State) Sessions() []SessionSummary {
	snap := s.tracker.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, s.summary(sess, s.records[sess.Path], snap[sess.Key]))
	}
	return out
}

func (s *State) summary(sess *corpus.Session, rec *corpus.Record, p progress.Entry) SessionSummary {
	sum := SessionSummary{
		Key:         sess.Key,
		ID:          sess.ID,
		Name:        sess.Name,
		Path:        sess.Path,
		StartedAt:   sess.StartedAt,
		CWD:         sess.CWD,
		ModTime:     sess.ModTime,
		Size:        sess.Size,
		Deleted:     sess.Deleted,
		Orphan:      sess.Orphan,
		UnreadCount: p.UnreadCount,
		ReadAll:     p.ReadAll,
		LastReadID:  p.LastReadID,
	}

	var title string
	if rec != nil {
		sum.MessageCount = rec.MessageCount
		sum.TotalLines = rec.TotalLines
		sum.ParseErrors = rec.ParseErrors
		sum.ParsedLines = rec.TotalLines - rec.ParseErrors
		sum.Integrity = fmt.Sprintf("%d/%d lines parsed, %d errors",
			sum.ParsedLines, rec.TotalLines, rec.ParseErrors)
		sum.HitCount = len(rec.Hits)
		sum.Critical = scan.HasCritical(rec.Hits)
		title = rec.Title
	}

	sum.Label = s.displayLabel(sess, p, title)
	return sum
}

// displayLabel resolves the listing label: a user-set label wins, then CSV
// metadata, then the registry, then the opening line of the conversation.
func (s *State) displayLabel(sess *corpus.Session, p progress.Entry, title string) string {
	if p.CustomLabel != "" {
		return p.CustomLabel
	}
	if sess.ID != "" {
		if m, ok := s.metadata[sess.ID]; ok && m.Label != "" {
			return m.Label
		}
	}
	if sess.Label != "" {
		return sess.Label
	}
	return title
}

// Detail parses one session in full for rendering. The parse is always
// fresh so an open browser tab sees the file as it is now.
func (s *State) Detail(key string) (*SessionDetail, error) {
	sess := s.find(key)
	if sess == nil {
		return nil, ErrUnknownSession
	}

	doc, err := session.ParseFile(sess.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", key, err)
	}

	rec := s.store(sess, doc)
	s.mu.Lock()
	s.records[sess.Path] = rec
	s.mu.Unlock()

	p, _ := s.tracker.Get(sess.Key)
	detail := &SessionDetail{
		SessionSummary: s.summary(sess, rec, p),
		Entries:        doc.Entries,
		Errors:         doc.Errors,
		Hits:           rec.Hits,
		Progress:       p,
	}
	return detail, nil
}

// Hits returns the danger hits for one session.
func (s *State) Hits(key string) ([]scan.Hit, error) {
	sess := s.find(key)
	if sess == nil {
		return nil, ErrUnknownSession
	}

	s.mu.RLock()
	rec := s.records[sess.Path]
	s.mu.RUnlock()
	if rec == nil {
		return nil, fmt.Errorf("failed to read session %s", key)
	}
	return rec.Hits, nil
}

// Dangers aggregates hits across the corpus, omitting clean sessions.
func (s *State) Dangers() map[string][]scan.Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]scan.Hit)
	for _, sess := range s.sessions {
		rec := s.records[sess.Path]
		if rec != nil && len(rec.Hits) > 0 {
			out[sess.Key] = rec.Hits
		}
	}
	return out
}

// MarkRead records that the user has read messages up to msgID.
func (s *State) MarkRead(key, msgID string) (progress.Entry, error) {
	sess := s.find(key)
	if sess == nil {
		return progress.Entry{}, ErrUnknownSession
	}

	doc, err := session.ParseFile(sess.Path)
	if err != nil {
		return progress.Entry{}, fmt.Errorf("failed to read session %s: %w", key, err)
	}
	return s.tracker.MarkRead(sess.Key, msgID, doc.Messages()), nil
}

// SetLabel stores a user-assigned display label.
func (s *State) SetLabel(key, label string) (progress.Entry, error) {
	sess := s.find(key)
	if sess == nil {
		return progress.Entry{}, ErrUnknownSession
	}
	return s.tracker.SetLabel(sess.Key, label), nil
}

// Progress returns the current progress snapshot.
func (s *State) Progress() map[string]progress.Entry {
	return s.tracker.Snapshot()
}

// HandleChange refreshes the corpus after a watcher event and returns the
// key of the session the changed path belongs to, when it still exists.
func (s *State) HandleChange(path string) string {
	if err := s.Refresh(); err != nil {
		logger.Warn().Err(err).Msg("Failed to refresh corpus")
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Path == path {
			return sess.Key
		}
	}
	return ""
}

// Close flushes progress and releases the index.
func (s *State) Close() {
	s.tracker.Flush()
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close scan index")
		}
	}
}

func (s *State) find(key string) *corpus.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Key == key {
			return sess
		}
	}
	return nil
}

// firstUserLine returns the opening line of the first user message, used
// as the last-resort display label.
func firstUserLine(msgs []*session.Entry) string {
	for _, m := range msgs {
		if m.Message == nil || m.Message.Role != session.RoleUser {
			continue
		}
		for _, b := range m.Message.Content {
			if b.Type != session.BlockText || b.Text == "" {
				continue
			}
			line := strings.TrimSpace(strings.SplitN(b.Text, "\n", 2)[0])
			if line == "" {
				continue
			}
			runes := []rune(line)
			if len(runes) > titleCap {
				line = string(runes[:titleCap])
			}
			return line
		}
	}
	return ""
}
