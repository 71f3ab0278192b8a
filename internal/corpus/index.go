package corpus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
	"github.com/Lukavyi/openclaw-inspector/internal/scan"

	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Record is one cached parse + scan result for a session file at a
// specific (mtime, size, rules hash). Any of the three changing makes the
// record stale.
type Record struct {
	Path         string
	Mtime        int64
	Size         int64
	RulesHash    string
	SessionID    string
	StartedAt    string
	CWD          string
	Title        string
	MessageCount int
	TotalLines   int
	ParseErrors  int
	Hits         []scan.Hit
}

// Index memoizes per-file scan results in SQLite so restarts and listing
// refreshes do not reparse unchanged transcripts. Strictly a cache: every
// read is revalidated against file mtime, size, and the rules hash, and
// callers fall back to a cold scan on any miss or index failure.
type Index struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// OpenIndex opens or creates the index database.
func OpenIndex(dbPath string) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	ix := &Index{db: db, dbPath: dbPath}
	if err := ix.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	logger.Debug().Str("path", dbPath).Msg("Opened scan index")
	return ix, nil
}

func (ix *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		path TEXT PRIMARY KEY,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		rules_hash TEXT NOT NULL,
		session_id TEXT,
		started_at TEXT,
		cwd TEXT,
		title TEXT,
		message_count INTEGER NOT NULL,
		total_lines INTEGER NOT NULL,
		parse_errors INTEGER NOT NULL,
		hits TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_scans_session ON scans(session_id);
	`

	_, err := ix.db.Exec(schema)
	return err
}

// Lookup returns the cached record for path when it is still fresh.
func (ix *Index) Lookup(path string, mtime, size int64, rulesHash string) (*Record, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var rec Record
	var hitsJSON string

	err := ix.db.QueryRow(
		`SELECT path, mtime, size, rules_hash, session_id, started_at, cwd,
		        title, message_count, total_lines, parse_errors, hits
		 FROM scans WHERE path = ?`,
		path,
	).Scan(&rec.Path, &rec.Mtime, &rec.Size, &rec.RulesHash, &rec.SessionID,
		&rec.StartedAt, &rec.CWD, &rec.Title, &rec.MessageCount, &rec.TotalLines,
		&rec.ParseErrors, &hitsJSON)

	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Index lookup failed")
		return nil, false
	}

	if rec.Mtime != mtime || rec.Size != size || rec.RulesHash != rulesHash {
		return nil, false
	}

	if hitsJSON != "" {
		if err := json.Unmarshal([]byte(hitsJSON), &rec.Hits); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Discarding index record with bad hits payload")
			return nil, false
		}
	}

	return &rec, true
}

// Put stores or replaces the record for rec.Path.
func (ix *Index) Put(rec *Record) error {
	hitsJSON, err := json.Marshal(rec.Hits)
	if err != nil {
		return fmt.Errorf("failed to marshal hits: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	_, err = ix.db.Exec(
		`INSERT OR REPLACE INTO scans
		 (path, mtime, size, rules_hash, session_id, started_at, cwd,
		  title, message_count, total_lines, parse_errors, hits)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.Mtime, rec.Size, rec.RulesHash, rec.SessionID,
		rec.StartedAt, rec.CWD, rec.Title, rec.MessageCount, rec.TotalLines,
		rec.ParseErrors, string(hitsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store index record: %w", err)
	}
	return nil
}

// Delete removes the record for one path.
func (ix *Index) Delete(path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.db.Exec("DELETE FROM scans WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete index record: %w", err)
	}
	return nil
}

// Prune drops records for paths no longer present in the corpus.
func (ix *Index) Prune(keep map[string]bool) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	rows, err := ix.db.Query("SELECT path FROM scans")
	if err != nil {
		return 0, fmt.Errorf("failed to list index records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, fmt.Errorf("failed to scan index row: %w", err)
		}
		if !keep[path] {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var pruned int64
	for _, path := range stale {
		result, err := ix.db.Exec("DELETE FROM scans WHERE path = ?", path)
		if err != nil {
			return pruned, fmt.Errorf("failed to prune index record: %w", err)
		}
		n, _ := result.RowsAffected()
		pruned += n
	}

	if pruned > 0 {
		logger.Debug().Int64("pruned", pruned).Msg("Pruned stale index records")
	}
	return pruned, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
