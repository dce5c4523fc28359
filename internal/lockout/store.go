package lockout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"casevault/internal/files"
)

// maxStateFileSize bounds lockout.json reads.
const maxStateFileSize = 64 << 10

// Record is the persisted counter for one operation.
type Record struct {
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	LockedUntil         *time.Time `json:"locked_until"`
	LastFailureAt       *time.Time `json:"last_failure_at"`
}

// Store persists lockout records between runs.
type Store interface {
	Load() (map[Operation]Record, error)
	Save(records map[Operation]Record) error
}

type stateFile struct {
	Version    int                  `json:"version"`
	Operations map[Operation]Record `json:"operations"`
}

// FileStore keeps all operations in one JSON file replaced atomically on
// every save.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file is an empty state.
func (s *FileStore) Load() (map[Operation]Record, error) {
	data, err := files.ReadLimited(s.path, maxStateFileSize)
	if errors.Is(err, fs.ErrNotExist) {
		return map[Operation]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lockout state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse lockout state: %w", err)
	}
	if state.Operations == nil {
		state.Operations = map[Operation]Record{}
	}
	return state.Operations, nil
}

// Save writes records with 0600 permissions.
func (s *FileStore) Save(records map[Operation]Record) error {
	data, err := json.MarshalIndent(stateFile{Version: 1, Operations: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lockout state: %w", err)
	}
	if err := files.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write lockout state: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable state file aside so it can be inspected.
func (s *FileStore) Quarantine() error {
	err := os.Rename(s.path, s.path+".corrupt")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// MemoryStore is a Store that never touches disk.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Operation]Record
	saves   int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[Operation]Record{}}
}

func (m *MemoryStore) Load() (map[Operation]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecords(m.records), nil
}

func (m *MemoryStore) Save(records map[Operation]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = copyRecords(records)
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func copyRecords(in map[Operation]Record) map[Operation]Record {
	out := make(map[Operation]Record, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
