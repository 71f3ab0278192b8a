package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const rawLineCap = 200

// Document is the parsed form of one session file: the ordered entry
// sequence, the count of non-blank lines, and every line-level decode
// failure. Entries and Errors line up: each failed line appears once in
// both, as a parse-error entry and as a ParseError record.
type Document struct {
	Entries    []Entry      `json:"entries"`
	TotalLines int          `json:"totalLines"`
	Errors     []ParseError `json:"parseErrors"`
}

// ParseError describes one line that failed to decode.
type ParseError struct {
	Line int    `json:"line"`
	Raw  string `json:"raw"`
	Err  string `json:"error"`
}

var errMissingType = errors.New("missing type field")

// rawEntry mirrors Entry with the message payload left undecoded, so a
// malformed payload degrades to an entry without one instead of failing
// the line.
type rawEntry struct {
	Type          string          `json:"type"`
	ID            string          `json:"id"`
	ParentID      string          `json:"parentId"`
	Timestamp     string          `json:"timestamp"`
	Version       int             `json:"version"`
	CWD           string          `json:"cwd"`
	ParentSession string          `json:"parentSession"`
	Provider      string          `json:"provider"`
	ModelID       string          `json:"modelId"`
	ThinkingLevel string          `json:"thinkingLevel"`
	Summary       string          `json:"summary"`
	CustomType    string          `json:"customType"`
	Data          interface{}     `json:"data"`
	Message       json.RawMessage `json:"message"`
}

// rawMessage mirrors Message with content left undecoded; see
// decodeContent for the shapes it accepts.
type rawMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	IsError    bool            `json:"isError"`
	Usage      *Usage          `json:"usage"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
}

// ParseFile opens and parses one session file. The open can fail; the
// parse itself cannot.
func ParseFile(path string) (*Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	return Parse(file), nil
}

// Parse reads line-delimited session entries. Every non-blank line yields
// exactly one entry: decoded on success, a synthetic parse-error entry on
// failure. Blank lines are skipped and do not count toward TotalLines.
// Line numbers are 1-based positions in the file, blanks included.
func Parse(r io.Reader) *Document {
	doc := &Document{}

	scanner := bufio.NewScanner(r)

	// Large lines are normal: a single assistant turn with tool output
	// can run to megabytes.
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		doc.TotalLines++

		entry, err := decodeLine(line, lineNum)
		if err != nil {
			doc.addError(lineNum, string(line), err)
			continue
		}
		doc.Entries = append(doc.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		doc.TotalLines++
		doc.addError(lineNum+1, "", err)
	}

	return doc
}

func decodeLine(line []byte, lineNum int) (Entry, error) {
	var raw rawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, err
	}
	if raw.Type == "" {
		return Entry{}, errMissingType
	}

	entry := Entry{
		Type:          raw.Type,
		Line:          lineNum,
		ID:            raw.ID,
		ParentID:      raw.ParentID,
		Timestamp:     raw.Timestamp,
		Version:       raw.Version,
		CWD:           raw.CWD,
		ParentSession: raw.ParentSession,
		Provider:      raw.Provider,
		ModelID:       raw.ModelID,
		ThinkingLevel: raw.ThinkingLevel,
		Summary:       raw.Summary,
		CustomType:    raw.CustomType,
		Data:          raw.Data,
	}

	if len(raw.Message) > 0 && string(raw.Message) != "null" {
		var rm rawMessage
		if err := json.Unmarshal(raw.Message, &rm); err == nil {
			entry.Message = &Message{
				Role:       rm.Role,
				Content:    decodeContent(rm.Content),
				ToolName:   rm.ToolName,
				ToolCallID: rm.ToolCallID,
				IsError:    rm.IsError,
				Usage:      rm.Usage,
				Provider:   rm.Provider,
				Model:      rm.Model,
			}
		}
	}

	return entry, nil
}

// decodeContent accepts the block array current writers emit and the plain
// string older files carry; anything else is a shape error and decodes to
// no content.
func decodeContent(data json.RawMessage) []ContentBlock {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		return blocks
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return []ContentBlock{{Type: BlockText, Text: text}}
	}
	return nil
}

func (d *Document) addError(line int, raw string, err error) {
	truncated := truncateLine(raw, rawLineCap)
	d.Entries = append(d.Entries, Entry{
		Type: TypeParseError,
		Line: line,
		Raw:  truncated,
		Err:  err.Error(),
	})
	d.Errors = append(d.Errors, ParseError{
		Line: line,
		Raw:  truncated,
		Err:  err.Error(),
	})
}

// Messages returns the message-type entries in file order.
func (d *Document) Messages() []*Entry {
	var msgs []*Entry
	for i := range d.Entries {
		if d.Entries[i].Type == TypeMessage {
			msgs = append(msgs, &d.Entries[i])
		}
	}
	return msgs
}

// Header returns the session header entry, nil when the file has none.
func (d *Document) Header() *Entry {
	for i := range d.Entries {
		if d.Entries[i].Type == TypeSession {
			return &d.Entries[i]
		}
	}
	return nil
}

// LastMessageID returns the id of the last message entry, or "" for a
// session with no messages.
func (d *Document) LastMessageID() string {
	for i := len(d.Entries) - 1; i >= 0; i-- {
		if d.Entries[i].Type == TypeMessage {
			return d.Entries[i].ID
		}
	}
	return ""
}

func truncateLine(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
