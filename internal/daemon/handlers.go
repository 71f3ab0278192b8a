package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Handlers contains the HTTP handlers for the daemon API
type Handlers struct {
	state     *State
	startedAt time.Time
	version   string
}

// NewHandlers creates a new handlers instance
func NewHandlers(state *State, version string) *Handlers {
	return &Handlers{
		state:     state,
		startedAt: time.Now(),
		version:   version,
	}
}

// Health handles the health check endpoint
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sessions handles the session listing endpoint
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Sessions())
}

// SessionDetail handles the full-session endpoint
func (h *Handlers) SessionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.state.Detail(r.PathValue("key"))
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// SessionHits handles the per-session hits endpoint
func (h *Handlers) SessionHits(w http.ResponseWriter, r *http.Request) {
	hits, err := h.state.Hits(r.PathValue("key"))
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// MarkRead handles the read-position update endpoint
func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.state.MarkRead(r.PathValue("key"), req.MessageID)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// SetLabel handles the custom-label endpoint
func (h *Handlers) SetLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.state.SetLabel(r.PathValue("key"), req.Label)
	if err != nil {
		writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Progress handles the progress snapshot endpoint
func (h *Handlers) Progress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Progress())
}

// Dangers handles the aggregate danger endpoint
func (h *Handlers) Dangers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Dangers())
}

// Rules handles the active rules endpoint
func (h *Handlers) Rules(w http.ResponseWriter, r *http.Request) {
	set := h.state.RuleSet()
	resp := RulesResponse{
		Source: set.Source,
		Rules:  make([]RuleSummary, 0, len(set.Rules)),
	}
	for i := range set.Rules {
		c := &set.Rules[i]
		resp.Rules = append(resp.Rules, RuleSummary{
			Category: c.Category,
			Severity: c.Severity,
			Label:    c.Label,
			Kind:     c.Kind.String(),
			Patterns: len(c.Patterns),
			Tools:    len(c.ToolRules),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
