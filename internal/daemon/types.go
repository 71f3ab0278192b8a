package daemon

import (
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/progress"
	"github.com/Lukavyi/openclaw-inspector/internal/scan"
	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"startedAt"`
}

// SessionSummary is one row of the corpus listing
type SessionSummary struct {
	Key          string    `json:"key"`
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Label        string    `json:"label,omitempty"`
	StartedAt    string    `json:"startedAt,omitempty"`
	CWD          string    `json:"cwd,omitempty"`
	ModTime      time.Time `json:"modTime"`
	Size         int64     `json:"size"`
	Deleted      bool      `json:"deleted"`
	Orphan       bool      `json:"orphan"`
	MessageCount int       `json:"messageCount"`
	TotalLines   int       `json:"totalLines"`
	ParsedLines  int       `json:"parsedLines"`
	ParseErrors  int       `json:"parseErrors"`
	Integrity    string    `json:"integrity,omitempty"`
	HitCount     int       `json:"hitCount"`
	Critical     bool      `json:"critical"`
	UnreadCount  int       `json:"unreadCount"`
	ReadAll      bool      `json:"readAll"`
	LastReadID   string    `json:"lastReadId,omitempty"`
}

// SessionDetail is the full render payload for one session
type SessionDetail struct {
	SessionSummary
	Entries  []session.Entry      `json:"entries"`
	Errors   []session.ParseError `json:"errors"`
	Hits     []scan.Hit           `json:"hits"`
	Progress progress.Entry       `json:"progress"`
}

// RuleSummary describes one compiled rule
type RuleSummary struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Label    string `json:"label,omitempty"`
	Kind     string `json:"kind"`
	Patterns int    `json:"patterns"`
	Tools    int    `json:"tools"`
}

// RulesResponse represents the active rule set
type RulesResponse struct {
	Source string        `json:"source"`
	Rules  []RuleSummary `json:"rules"`
}

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// SSE event types
const (
	SSEConnected      = "connected"
	SSESessionChanged = "session_changed"
	SSEHeartbeat      = "heartbeat"
)

type markReadRequest struct {
	MessageID string `json:"messageId"`
}

type labelRequest struct {
	Label string `json:"label"`
}
