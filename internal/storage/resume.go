package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/qepting91/skeet-sweeper/internal/domain"
)

// fileKeys maps each collection to its field in the resume file
var fileKeys = map[domain.Collection]string{
	domain.Likes:   "last_likes_cursor",
	domain.Posts:   "last_posts_cursor",
	domain.Reposts: "last_reposts_cursor",
}

// FileStore keeps resume cursors in a JSON file
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the resume file. A missing or malformed file is an empty state.
func (s *FileStore) Load(ctx context.Context) (domain.ResumeState, error) {
	raw, err := s.readRaw()
	if err != nil {
		return nil, err
	}
	state := domain.ResumeState{}
	for collection, key := range fileKeys {
		var cursor string
		if v, ok := raw[key]; ok && json.Unmarshal(v, &cursor) == nil && cursor != "" {
			state[collection] = cursor
		}
	}
	return state, nil
}

// Save merges one cursor into the file, leaving other fields untouched
func (s *FileStore) Save(ctx context.Context, collection domain.Collection, cursor string) error {
	key, ok := fileKeys[collection]
	if !ok {
		return fmt.Errorf("save cursor: unknown collection %q", collection)
	}
	raw, err := s.readRaw()
	if err != nil {
		return err
	}
	if cursor == "" {
		delete(raw, key)
	} else {
		encoded, _ := json.Marshal(cursor)
		raw[key] = encoded
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("save cursor: encode: %w", err)
	}
	if err := writeFileAtomic(s.Path, data); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// readRaw returns the file's top-level fields, keeping unknown ones for the merge.
func (s *FileStore) readRaw() (map[string]json.RawMessage, error) {
	raw := map[string]json.RawMessage{}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return raw, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read resume file: %w", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return map[string]json.RawMessage{}, nil
	}
	return raw, nil
}

// writeFileAtomic writes to a sibling temp file and renames it over path,
// so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryStore keeps resume cursors in memory
type MemoryStore struct {
	mu    sync.Mutex
	state domain.ResumeState
	// Saves records every Save call in order.
	Saves []domain.ResumeState
}

func NewMemoryStore(initial domain.ResumeState) *MemoryStore {
	state := domain.ResumeState{}
	for k, v := range initial {
		state[k] = v
	}
	return &MemoryStore{state: state}
}

func (m *MemoryStore) Load(ctx context.Context) (domain.ResumeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *MemoryStore) Save(ctx context.Context, collection domain.Collection, cursor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor == "" {
		delete(m.state, collection)
	} else {
		m.state[collection] = cursor
	}
	m.Saves = append(m.Saves, m.snapshot())
	return nil
}

func (m *MemoryStore) snapshot() domain.ResumeState {
	out := make(domain.ResumeState, len(m.state))
	for k, v := range m.state {
		out[k] = v
	}
	return out
}

// OpenResumeStore selects the resume backend: "file" (default), "sqlite" or "memory".
// The returned close func is never nil.
func OpenResumeStore(backend, path string) (domain.ResumeStore, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", "file":
		return NewFileStore(path), noop, nil
	case "sqlite":
		s, err := OpenSQLiteStore(path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case "memory":
		return NewMemoryStore(nil), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown RESUME_BACKEND: %s (use 'file', 'sqlite' or 'memory')", backend)
	}
}
