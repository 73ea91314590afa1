// Package kvstore is a minimal embedded, file-backed key/value store: one
// JSON file per key, written with atomic temp-file-then-rename replace.
// Fulfills the "persistence capability" spec.md §1 treats as external.
// Grounded on the atomic-write pattern of pulumi's snapshot/journal
// persister (other_examples/.../pulumi-pulumi__pkg-backend-journal.go.go),
// since the teacher's own status-file writer (os.WriteFile) is not atomic.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a directory of JSON blobs, one per key.
type Store struct {
	baseDir string
}

// Open returns a Store rooted at baseDir, creating it if necessary.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("kvstore: creating base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// keyFile maps a logical key to a filesystem path, escaping path separators
// so arbitrary repo paths can be used as keys.
func (s *Store) keyFile(key string) string {
	escaped := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	return filepath.Join(s.baseDir, escaped+".json")
}

// Put atomically writes value (marshaled as JSON) under key.
func (s *Store) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvstore: marshaling value for %s: %w", key, err)
	}
	return s.writeAtomic(s.keyFile(key), data)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kvstore-tmp-*")
	if err != nil {
		return fmt.Errorf("kvstore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("kvstore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("kvstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("kvstore: renaming temp file into place: %w", err)
	}
	return nil
}

// Get reads the value stored under key into dst (a pointer), returning
// ErrNotFound if no value is stored.
func (s *Store) Get(key string, dst interface{}) error {
	data, err := os.ReadFile(s.keyFile(key))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("kvstore: reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("kvstore: unmarshaling %s: %w", key, err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is a no-op.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.keyFile(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kvstore: deleting %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a value is stored under key.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.keyFile(key))
	return err == nil
}
