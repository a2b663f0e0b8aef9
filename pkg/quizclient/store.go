// Package quizclient is the Go client for the session websocket: it
// keeps the reconnection credential, runs the backoff schedule and
// resynchronizes state after a drop.
package quizclient

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"
)

// credentialTTL bounds how long a stored credential is considered
// usable without a successful connection.
const credentialTTL = 5 * time.Minute

// Credentials is the session blob needed to resume a session.
type Credentials struct {
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Nickname      string    `json:"nickname"`
	SessionToken  string    `json:"session_token"`
	SavedAt       time.Time `json:"saved_at"`
}

// Expired reports whether the credential is too stale to present.
func (c *Credentials) Expired(now time.Time) bool {
	return now.Sub(c.SavedAt) > credentialTTL
}

// CredentialStore persists the reconnection credential across client
// restarts. The last-seen question is stored under its own key: it
// changes on every question while the session blob keeps the join-time
// timestamp its expiry is measured from.
type CredentialStore interface {
	Save(c *Credentials) error
	// Load returns nil when no usable credential exists. Expired
	// credentials are cleared, not returned.
	Load() (*Credentials, error)
	SaveLastQuestion(questionID string) error
	LoadLastQuestion() (string, error)
	Clear() error
}

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu           sync.Mutex
	creds        *Credentials
	lastQuestion string
	now          func() time.Time
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.SavedAt = s.now()
	s.creds = &cp
	return nil
}

func (s *MemoryStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	if s.creds.Expired(s.now()) {
		s.creds = nil
		s.lastQuestion = ""
		return nil, nil
	}
	cp := *s.creds
	return &cp, nil
}

func (s *MemoryStore) SaveLastQuestion(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuestion = questionID
	return nil
}

func (s *MemoryStore) LoadLastQuestion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuestion, nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.lastQuestion = ""
	return nil
}

// fileState is the on-disk layout: the session blob and the last-seen
// question live under separate keys so updating one never touches the
// other's lifetime.
type fileState struct {
	Session      *Credentials `json:"session,omitempty"`
	LastQuestion string       `json:"last_known_question_id,omitempty"`
}

// FileStore persists the credential as a JSON file so a restarted
// client can resume within the credential TTL.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileStore creates a file-backed credential store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Save(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	cp := *c
	cp.SavedAt = s.now()
	st.Session = &cp
	return s.write(st)
}

func (s *FileStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return nil, err
	}
	if st.Session == nil {
		return nil, nil
	}
	if st.Session.Expired(s.now()) {
		if err := s.remove(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return st.Session, nil
}

func (s *FileStore) SaveLastQuestion(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return err
	}
	st.LastQuestion = questionID
	return s.write(st)
}

func (s *FileStore) LoadLastQuestion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.read()
	if err != nil {
		return "", err
	}
	return st.LastQuestion, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove()
}

func (s *FileStore) read() (*fileState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileState{}, nil
		}
		return nil, err
	}
	var st fileState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *FileStore) write(st *fileState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *FileStore) remove() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
