package session

import "time"

// Entry type discriminators as they appear on the wire. ParseError is
// synthetic: the parser emits it for lines that failed to decode.
const (
	TypeSession       = "session"
	TypeMessage       = "message"
	TypeModelChange   = "model_change"
	TypeThinkingLevel = "thinking_level_change"
	TypeCompaction    = "compaction"
	TypeCustom        = "custom"
	TypeParseError    = "parse-error"
)

// Content block types within a message. Unrecognized types pass through
// untouched for rendering.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolCall = "toolCall"
	BlockImage    = "image"
)

// Message roles.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
)

// Entry is one decoded line of a session file. All recognized entry types
// share this shape; unused fields stay zero and are elided from JSON.
type Entry struct {
	Type      string `json:"type"`
	Line      int    `json:"line"`
	ID        string `json:"id,omitempty"`
	ParentID  string `json:"parentId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	// session header
	Version       int    `json:"version,omitempty"`
	CWD           string `json:"cwd,omitempty"`
	ParentSession string `json:"parentSession,omitempty"`

	// model_change / thinking_level_change
	Provider      string `json:"provider,omitempty"`
	ModelID       string `json:"modelId,omitempty"`
	ThinkingLevel string `json:"thinkingLevel,omitempty"`

	// compaction
	Summary string `json:"summary,omitempty"`

	// custom
	CustomType string      `json:"customType,omitempty"`
	Data       interface{} `json:"data,omitempty"`

	Message *Message `json:"message,omitempty"`

	// parse-error
	Raw string `json:"raw,omitempty"`
	Err string `json:"error,omitempty"`
}

// Message is the payload of a message entry.
type Message struct {
	Role       string         `json:"role"` // user, assistant, toolResult
	Content    []ContentBlock `json:"content,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
}

// ContentBlock is one block of message content. A toolCall block carries
// its argument object under Arguments, or Args in files written before the
// field was renamed.
type ContentBlock struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	Thinking  string      `json:"thinking,omitempty"`
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments interface{} `json:"arguments,omitempty"`
	Args      interface{} `json:"args,omitempty"`
	MimeType  string      `json:"mimeType,omitempty"`
	Data      string      `json:"data,omitempty"`
}

// Usage holds optional token counters attached to a message.
type Usage struct {
	Input      int `json:"input,omitempty"`
	Output     int `json:"output,omitempty"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
}

// ToolArguments returns the argument payload of a toolCall block,
// whichever field name the writer used. Nil when both are absent.
func (b *ContentBlock) ToolArguments() interface{} {
	if b.Arguments != nil {
		return b.Arguments
	}
	return b.Args
}

// Blocks returns the entry's content blocks, nil-safe for entries that are
// not messages or carry no content.
func (e *Entry) Blocks() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	return e.Message.Content
}

// Time parses the entry timestamp. Writers emit RFC3339 with or without
// fractional seconds.
func (e *Entry) Time() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		return ts, true
	}
	return time.Time{}, false
}
