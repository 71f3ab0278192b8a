package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

// SSEBroadcaster manages SSE connections and broadcasts events. It is
// push-driven: the watcher loop calls Broadcast after a rescan, and a
// heartbeat keeps idle connections alive.
type SSEBroadcaster struct {
	clients map[chan SSEEvent]bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSSEBroadcaster creates a new SSE broadcaster
func NewSSEBroadcaster() *SSEBroadcaster {
	return &SSEBroadcaster{
		clients: make(map[chan SSEEvent]bool),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the heartbeat loop
func (b *SSEBroadcaster) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.sendHeartbeats(ctx)
	}()
}

// Stop stops the broadcaster and closes all client channels
func (b *SSEBroadcaster) Stop() {
	close(b.stopCh)
	b.wg.Wait()

	b.mu.Lock()
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	b.mu.Unlock()
}

// Subscribe adds a new client to receive events
func (b *SSEBroadcaster) Subscribe() chan SSEEvent {
	ch := make(chan SSEEvent, 100)
	b.mu.Lock()
	b.clients[ch] = true
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client
func (b *SSEBroadcaster) Unsubscribe(ch chan SSEEvent) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Broadcast sends an event to all connected clients
func (b *SSEBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// Channel is full, skip this client
			logger.Debug().Msg("SSE client channel full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients
func (b *SSEBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroadcaster) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Broadcast(SSEEvent{
				Type: SSEHeartbeat,
				Data: map[string]any{
					"time":    time.Now().UTC(),
					"clients": b.ClientCount(),
				},
			})
		}
	}
}

// ServeHTTP handles SSE connections
func (b *SSEBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	writeSSEEvent(w, SSEEvent{
		Type: SSEConnected,
		Data: map[string]any{
			"message": "Connected to session inspector",
			"time":    time.Now().UTC(),
		},
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSEEvent(w, event)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event SSEEvent) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
