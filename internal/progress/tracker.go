package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

// Entry is the read state for one session identity.
type Entry struct {
	LastReadID  string `json:"lastReadId,omitempty"`
	LastReadAt  string `json:"lastReadAt,omitempty"`
	TotalMsgs   int    `json:"totalMsgs"`
	UnreadCount int    `json:"unreadCount"`
	ReadAll     bool   `json:"readAll"`
	CustomLabel string `json:"customLabel,omitempty"`
}

// Tracker owns the progress map. Mutations are serialized and applied by
// replacing the whole map, so readers holding a Snapshot never see partial
// updates and never need a lock. Every committed mutation is handed to the
// store, which persists on its own debounced schedule; the in-memory map
// is authoritative throughout.
type Tracker struct {
	mu    sync.Mutex
	cur   atomic.Value // map[string]Entry
	store *Store
}

// NewTracker builds a tracker seeded from the store. A store load failure
// is a warning: tracking starts empty and memory wins from then on.
func NewTracker(store *Store) *Tracker {
	t := &Tracker{store: store}

	entries := map[string]Entry{}
	if store != nil {
		loaded, err := store.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load progress store, starting empty")
		} else {
			entries = loaded
		}
	}
	t.cur.Store(entries)
	return t
}

// Snapshot returns the current map. It is shared and must be treated as
// read-only; mutations go through the tracker.
func (t *Tracker) Snapshot() map[string]Entry {
	return t.cur.Load().(map[string]Entry)
}

// Get returns the entry for one session identity.
func (t *Tracker) Get(key string) (Entry, bool) {
	e, ok := t.Snapshot()[key]
	return e, ok
}

// MarkRead records that the operator has reviewed msgs up to and including
// msgID. An id missing from the sequence counts everything unread rather
// than anything read.
func (t *Tracker) MarkRead(key, msgID string, msgs []*session.Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.Snapshot()[key]
	e.LastReadID = msgID
	e.LastReadAt = time.Now().UTC().Format(time.RFC3339)
	e.TotalMsgs = len(msgs)
	e.UnreadCount, e.ReadAll = position(msgs, msgID)

	t.commit(key, e)
	return e
}

// Recompute refreshes TotalMsgs and UnreadCount after the session changed,
// preserving the read position. ReadAll drops back to false when messages
// arrived after what used to be the end. Creates the entry on a session's
// first load.
func (t *Tracker) Recompute(key string, msgs []*session.Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.Snapshot()[key]
	e.TotalMsgs = len(msgs)
	e.UnreadCount, e.ReadAll = position(msgs, e.LastReadID)

	t.commit(key, e)
	return e
}

// SetLabel assigns the operator display name, creating the entry when the
// session has never been marked.
func (t *Tracker) SetLabel(key, label string) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.Snapshot()[key]
	e.CustomLabel = label

	t.commit(key, e)
	return e
}

// Migrate moves records stored under legacy keys to the canonical key.
// An existing canonical record is never overwritten; legacy keys are
// removed either way so stale records cannot resurface on later runs.
// Safe to call repeatedly.
func (t *Tracker) Migrate(canonical string, legacy ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.Snapshot()
	next := cloneMap(cur)
	changed := false

	for _, lk := range legacy {
		if lk == canonical {
			continue
		}
		rec, ok := next[lk]
		if !ok {
			continue
		}
		if _, exists := next[canonical]; !exists {
			next[canonical] = rec
		}
		delete(next, lk)
		changed = true
	}

	if changed {
		t.cur.Store(next)
		t.persist(next)
	}
	return changed
}

// Flush forces any pending persistence, for shutdown paths.
func (t *Tracker) Flush() {
	if t.store != nil {
		t.store.Flush()
	}
}

// position derives (unreadCount, readAll) for a read mark against the
// current message sequence.
func position(msgs []*session.Entry, lastReadID string) (int, bool) {
	if lastReadID == "" {
		return len(msgs), false
	}
	for i, m := range msgs {
		if m.ID == lastReadID {
			return len(msgs) - i - 1, i == len(msgs)-1
		}
	}
	return len(msgs), false
}

// commit must run under mu.
func (t *Tracker) commit(key string, e Entry) {
	next := cloneMap(t.Snapshot())
	next[key] = e
	t.cur.Store(next)
	t.persist(next)
}

func (t *Tracker) persist(m map[string]Entry) {
	if t.store != nil {
		t.store.Save(m)
	}
}

func cloneMap(m map[string]Entry) map[string]Entry {
	next := make(map[string]Entry, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
