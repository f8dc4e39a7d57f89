// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cursor

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bureau-foundation/journalrelay/lib/atomicfile"
)

// Cursor is an opaque journald position token. Cursors are compared
// only for equality; ordering is journald's business.
type Cursor string

// ErrCorrupt is returned by Load when the store exists but does not
// hold a usable cursor.
var ErrCorrupt = errors.New("cursor store is corrupt")

// Store is single-value durable storage for the last acknowledged
// cursor.
type Store interface {
	// Load returns the stored cursor. The boolean is false when nothing
	// has been stored yet.
	Load() (Cursor, bool, error)

	// Save replaces the stored cursor. It returns only after the value
	// is durable.
	Save(Cursor) error
}

// FileStore keeps the cursor in a single text file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by path. The parent directory
// must exist before the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the cursor file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the cursor file. A missing file is reported as absent;
// leftover temporary files from an interrupted Save are ignored.
func (s *FileStore) Load() (Cursor, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading cursor file %s: %w", s.path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, fmt.Errorf("%w: %s is empty", ErrCorrupt, s.path)
	}
	if strings.ContainsAny(value, "\n\r") {
		return "", false, fmt.Errorf("%w: %s holds more than one line", ErrCorrupt, s.path)
	}
	return Cursor(value), true, nil
}

// Save atomically replaces the cursor file.
func (s *FileStore) Save(c Cursor) error {
	if c == "" {
		return errors.New("refusing to save an empty cursor")
	}
	if err := atomicfile.Write(s.path, []byte(string(c)+"\n"), 0600); err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// Reset removes the cursor file so the next start applies the start
// policy. This is the operator's path for recovering from a cursor that
// journald no longer recognizes.
func (s *FileStore) Reset() error {
	if err := atomicfile.Remove(s.path); err != nil {
		return fmt.Errorf("resetting cursor: %w", err)
	}
	return nil
}

// MemoryStore is a Store held in memory. Used by tests and by dry runs,
// where nothing should survive the process.
type MemoryStore struct {
	mu      sync.Mutex
	value   Cursor
	present bool
	saves   int

	// FailSave, when non-nil, is returned by every Save.
	FailSave error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the held cursor.
func (s *MemoryStore) Load() (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.present, nil
}

// Save replaces the held cursor.
func (s *MemoryStore) Save(c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return s.FailSave
	}
	s.value = c
	s.present = true
	s.saves++
	return nil
}

// Saves returns how many Save calls succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
