package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/domain"
)

// ActionRecord is one line of the action log
type ActionRecord struct {
	Time        time.Time          `json:"time"`
	RunID       string             `json:"run_id,omitempty"`
	Disposition domain.Disposition `json:"disposition"`
	URI         string             `json:"uri"`
	Target      string             `json:"target"`
	CreatedAt   string             `json:"created_at,omitempty"`
	OK          bool               `json:"ok"`
	Error       string             `json:"error,omitempty"`
}

// ActionLog appends mutation outcomes to a file as NDJSON
type ActionLog struct {
	FilePath string
	RunID    string

	f   *os.File
	enc *json.Encoder
}

// OpenActionLog opens path for appending, creating parent directories
func OpenActionLog(path, runID string) (*ActionLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open action log: %w", err)
	}
	return &ActionLog{FilePath: path, RunID: runID, f: f, enc: json.NewEncoder(f)}, nil
}

// Record writes one outcome. A nil log discards it.
func (l *ActionLog) Record(action domain.Action, target string, err error) error {
	if l == nil || l.enc == nil {
		return nil
	}
	rec := ActionRecord{
		Time:        time.Now().UTC(),
		RunID:       l.RunID,
		Disposition: action.Disposition,
		URI:         action.Item.URI,
		Target:      target,
		CreatedAt:   action.Item.CreatedAt,
		OK:          err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return l.enc.Encode(rec)
}

func (l *ActionLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
