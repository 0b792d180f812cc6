package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var _ Location = (*FileLocation)(nil)
var _ Location = (*MemoryLocation)(nil)

// Location is one physical place a credential record can live in.
type Location interface {
	Read() (Record, error)
	Write(Record) error
	Clear() error
}

// MemoryLocation keeps the record in process memory only.
type MemoryLocation struct {
	mu     sync.Mutex
	record Record
}

func NewMemoryLocation() *MemoryLocation {
	return &MemoryLocation{}
}

func (l *MemoryLocation) Read() (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record
	if rec.User != nil {
		userCopy := *rec.User
		rec.User = &userCopy
	}
	return rec, nil
}

func (l *MemoryLocation) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.User != nil {
		userCopy := *rec.User
		rec.User = &userCopy
	}
	l.record = rec
	return nil
}

func (l *MemoryLocation) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record = Record{}
	return nil
}

// FileLocation keeps the record in a JSON file on disk, so a remembered
// session survives service restarts.
type FileLocation struct {
	mu   sync.Mutex
	path string
}

func NewFileLocation(path string) *FileLocation {
	return &FileLocation{
		path: path,
	}
}

func (l *FileLocation) Read() (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recBytes, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("read credentials file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(recBytes, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal credentials file: %w", err)
	}

	return rec, nil
}

func (l *FileLocation) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	recBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	if err := os.WriteFile(l.path, recBytes, 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}

func (l *FileLocation) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials file: %w", err)
	}
	return nil
}
