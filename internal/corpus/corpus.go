package corpus

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lukavyi/openclaw-inspector/internal/session"
)

// Session file suffixes. Deleting a session renames the file rather than
// removing it, so deleted transcripts stay browsable.
const (
	Ext        = ".jsonl"
	DeletedExt = ".jsonl.deleted"
)

// Session describes one transcript file found under the store root.
type Session struct {
	Key       string    `json:"key"`
	ID        string    `json:"id,omitempty"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Deleted   bool      `json:"deleted"`
	Orphan    bool      `json:"orphan"`
	Label     string    `json:"label,omitempty"`
	StartedAt string    `json:"startedAt,omitempty"`
	CWD       string    `json:"cwd,omitempty"`
	ModTime   time.Time `json:"modTime"`
	Size      int64     `json:"size"`
}

// Stem is the filename with the session suffixes stripped.
func (s *Session) Stem() string {
	name := strings.TrimSuffix(s.Name, ".deleted")
	return strings.TrimSuffix(name, Ext)
}

// LegacyKeys lists the identities progress records may have been stored
// under before stable session ids: filename variants with and without the
// deletion marker. The canonical key is excluded.
func (s *Session) LegacyKeys() []string {
	stem := s.Stem()
	candidates := []string{s.Name, stem + Ext, stem + DeletedExt, stem}

	var keys []string
	seen := map[string]bool{s.Key: true}
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			keys = append(keys, c)
		}
	}
	return keys
}

// ListResult carries the enumerated sessions plus non-fatal problems met
// along the way.
type ListResult struct {
	Sessions []*Session
	Warnings []error
}

// List walks the store root for session files, reads their headers, and
// applies each directory's registry for orphan detection and labels.
// Per-file problems become warnings; only an unreadable root is an error.
func List(root string) (*ListResult, error) {
	res := &ListResult{}
	byDir := map[string][]*Session{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			res.Warnings = append(res.Warnings, err)
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		deleted := strings.HasSuffix(name, DeletedExt)
		if !deleted && !strings.HasSuffix(name, Ext) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Errorf("failed to stat %s: %w", path, err))
			return nil
		}

		s := &Session{
			Path:    path,
			Name:    name,
			Deleted: deleted,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}

		header, err := ReadHeader(path)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Errorf("failed to read header of %s: %w", path, err))
		} else if header != nil {
			s.ID = header.ID
			s.StartedAt = header.Timestamp
			s.CWD = header.CWD
		}

		s.Key = s.ID
		if s.Key == "" {
			s.Key = s.Stem()
		}

		byDir[filepath.Dir(path)] = append(byDir[filepath.Dir(path)], s)
		res.Sessions = append(res.Sessions, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk store root %s: %w", root, err)
	}

	for dir, sessions := range byDir {
		applyRegistry(dir, sessions, res)
	}

	sort.Slice(res.Sessions, func(i, j int) bool {
		a, b := res.Sessions[i], res.Sessions[j]
		if !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.After(b.ModTime)
		}
		return a.Name < b.Name
	})

	return res, nil
}

// ReadHeader decodes the first non-blank line of a session file when it is
// a session header. Headerless files return nil without error; undecodable
// first lines return an error.
func ReadHeader(path string) (*session.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		doc := session.Parse(bytes.NewReader(line))
		if len(doc.Errors) > 0 {
			return nil, errors.New(doc.Errors[0].Err)
		}
		return doc.Header(), nil
	}
	return nil, scanner.Err()
}
