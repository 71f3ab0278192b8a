package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/corpus"
	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

// Server represents the viewer HTTP server
type Server struct {
	httpServer  *http.Server
	handlers    *Handlers
	broadcaster *SSEBroadcaster
	lifecycle   *Lifecycle
	state       *State
	watcher     *corpus.Watcher
	stopCh      chan struct{}
	wg          sync.WaitGroup
	addr        string
}

// NewServer creates a new viewer server
func NewServer(addr string, state *State, version string) *Server {
	handlers := NewHandlers(state, version)
	broadcaster := NewSSEBroadcaster()

	mux := http.NewServeMux()

	// Static files
	mux.HandleFunc("GET /", serveIndex)
	mux.HandleFunc("GET /static/app.js", serveAppJS)
	mux.HandleFunc("GET /static/styles.css", serveStylesCSS)

	// API endpoints
	mux.HandleFunc("GET /api/health", handlers.Health)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions)
	mux.HandleFunc("GET /api/sessions/{key}", handlers.SessionDetail)
	mux.HandleFunc("GET /api/sessions/{key}/hits", handlers.SessionHits)
	mux.HandleFunc("POST /api/sessions/{key}/read", handlers.MarkRead)
	mux.HandleFunc("POST /api/sessions/{key}/label", handlers.SetLabel)
	mux.HandleFunc("GET /api/progress", handlers.Progress)
	mux.HandleFunc("GET /api/dangers", handlers.Dangers)
	mux.HandleFunc("GET /api/rules", handlers.Rules)

	// SSE endpoint
	mux.HandleFunc("GET /sse/events", broadcaster.ServeHTTP)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           corsMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
		handlers:    handlers,
		broadcaster: broadcaster,
		lifecycle:   NewLifecycle(addr),
		state:       state,
		stopCh:      make(chan struct{}),
		addr:        addr,
	}
}

// Start starts the server and the corpus watcher
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.WritePID(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	watcher, err := corpus.NewWatcher(s.state.Root())
	if err != nil {
		return fmt.Errorf("failed to watch store root: %w", err)
	}
	s.watcher = watcher

	s.broadcaster.Start(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchLoop(ctx)
	}()

	logger.Info().
		Str("addr", s.addr).
		Str("url", fmt.Sprintf("http://%s", s.addr)).
		Msg("Starting session inspector daemon")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server. The watch loop must be down before
// the broadcaster closes client channels, or a broadcast could hit a
// closed channel.
func (s *Server) Stop(ctx context.Context) error {
	logger.Info().Msg("Stopping session inspector daemon")

	close(s.stopCh)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.wg.Wait()
	s.broadcaster.Stop()
	s.state.Close()
	_ = s.lifecycle.RemovePID()

	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.addr
}

// Lifecycle returns the lifecycle manager
func (s *Server) Lifecycle() *Lifecycle {
	return s.lifecycle
}

// watchLoop turns debounced file changes into rescans and SSE events.
func (s *Server) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case change := <-s.watcher.Events():
			key := s.state.HandleChange(change.Path)
			logger.Debug().
				Str("path", change.Path).
				Str("key", key).
				Str("op", change.Op.String()).
				Msg("Session file changed")
			s.broadcaster.Broadcast(SSEEvent{
				Type: SSESessionChanged,
				Data: map[string]any{
					"key":  key,
					"path": change.Path,
				},
			})
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func serveAppJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write(appJS)
}

func serveStylesCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write(stylesCSS)
}
