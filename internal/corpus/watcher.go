package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

const watchDebounce = 250 * time.Millisecond

// Change is one debounced filesystem notification for a session file or a
// registry file.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Watcher emits debounced Change events for session files under the store
// root. Subdirectories created later are picked up automatically. Editors
// and agents write in bursts; the per-path debounce collapses each burst
// into one event carrying its final op.
type Watcher struct {
	fw     *fsnotify.Watcher
	events chan Change
	done   chan struct{}
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher starts watching root and every directory below it.
func NewWatcher(root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fw:      fw,
		events:  make(chan Change, 64),
		done:    make(chan struct{}),
		log:     logger.Component("watcher"),
		pending: make(map[string]*time.Timer),
	}

	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Events is the stream of debounced changes.
func (w *Watcher) Events() <-chan Change {
	return w.events
}

// Close stops the watcher. Pending debounce timers may still deliver into
// the buffered channel; consumers drain or drop them.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.log.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}

	if !watchable(event.Name) {
		return
	}
	w.debounce(event)
}

func watchable(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, Ext) ||
		strings.HasSuffix(name, DeletedExt) ||
		name == RegistryName
}

func (w *Watcher) debounce(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[event.Name]; ok {
		t.Stop()
	}
	w.pending[event.Name] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()

		select {
		case w.events <- Change{Path: event.Name, Op: event.Op}:
		default:
			w.log.Warn().Str("path", event.Name).Msg("Dropping change event, consumer not keeping up")
		}
	})
}
