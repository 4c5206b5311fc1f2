package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore writes one JSON document per call into a directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(callID string) (string, error) {
	if callID == "" || strings.ContainsAny(callID, `/\`) || callID == "." || callID == ".." {
		return "", fmt.Errorf("invalid call id %q", callID)
	}
	return filepath.Join(f.dir, "conversation_history_"+callID+".json"), nil
}

// Save writes rec, replacing any earlier record for the call.
func (f *FileStore) Save(_ context.Context, rec Record) error {
	p, err := f.path(rec.CallID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.CallID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rec.CallID, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", rec.CallID, err)
	}
	return nil
}

// Load reads the record for callID.
func (f *FileStore) Load(_ context.Context, callID string) (Record, error) {
	p, err := f.path(callID)
	if err != nil {
		return Record{}, err
	}
	f.mu.Lock()
	data, err := os.ReadFile(p)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("%s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read %s: %w", callID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", callID, err)
	}
	return rec, nil
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }
