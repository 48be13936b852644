package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ClientState contains the runtime state of the client.
type ClientState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Endpoint is the client endpoint name.
	Endpoint string `json:"endpoint"`

	// Sessions contains one record per configured server.
	Sessions []SessionRecord `json:"sessions,omitempty"`
}

// SessionRecord is the persisted view of one server session.
type SessionRecord struct {
	// Server is the configured server name.
	Server string `json:"server"`

	// SessionID is the id used in protocol logs.
	SessionID string `json:"session_id,omitempty"`

	// State is the registration state name (e.g. "REGISTERED").
	State string `json:"state"`

	// Location is the server-assigned session path.
	Location string `json:"location,omitempty"`

	// Acknowledged is the canonical listing last acknowledged by the server.
	Acknowledged string `json:"acknowledged,omitempty"`

	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Session returns the record for server, if present.
func (s *ClientState) Session(server string) (SessionRecord, bool) {
	for _, r := range s.Sessions {
		if r.Server == server {
			return r, true
		}
	}
	return SessionRecord{}, false
}

// SetSession inserts or replaces the record for rec.Server, keeping the
// records sorted by server name.
func (s *ClientState) SetSession(rec SessionRecord) {
	for i, r := range s.Sessions {
		if r.Server == rec.Server {
			s.Sessions[i] = rec
			return
		}
	}
	s.Sessions = append(s.Sessions, rec)
	sort.Slice(s.Sessions, func(i, j int) bool {
		return s.Sessions[i].Server < s.Sessions[j].Server
	})
}

// StateStore manages persistence of client state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a new state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the file path.
func (s *StateStore) Path() string {
	return s.path
}

// Save persists the client state to disk.
func (s *StateStore) Save(state *ClientState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return writeFileAtomic(s.path, data)
}

// Load reads the client state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*ClientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &ClientState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeFileAtomic writes data to a temporary file and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
