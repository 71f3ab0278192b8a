package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Lukavyi/openclaw-inspector/internal/logger"
)

// Metadata is display-only session information joined from the metadata
// CSV. It never feeds scanning or progress logic.
type Metadata struct {
	Label string `json:"label,omitempty"`
	Note  string `json:"note,omitempty"`
}

// LoadCSV reads session display metadata keyed by session id. Expected
// columns: session_id, label, note (note optional; a header row is
// recognized and skipped). Malformed rows are logged and skipped.
func LoadCSV(path string) (map[string]Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	meta := make(map[string]Metadata)
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Skipping malformed metadata row")
			continue
		}

		if first {
			first = false
			if len(record) > 0 && record[0] == "session_id" {
				continue
			}
		}

		if len(record) < 2 || record[0] == "" {
			logger.Warn().Str("path", path).Strs("row", record).Msg("Skipping incomplete metadata row")
			continue
		}

		m := Metadata{Label: record[1]}
		if len(record) > 2 {
			m.Note = record[2]
		}
		meta[record[0]] = m
	}

	return meta, nil
}
