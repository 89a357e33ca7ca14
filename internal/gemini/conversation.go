package gemini

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversation is an ordered, append-only record of user and model turns.
// Messages are never reordered or removed except by an explicit clear.
type Conversation struct {
	ID            string
	Messages      []Message
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	Metadata      map[string]string
}

func (c *Conversation) stale(timeout time.Duration, now time.Time) bool {
	return now.Sub(c.LastUpdatedAt) > timeout
}

// Store keeps conversation sessions in process memory, keyed by id, with
// exactly one current session. A default conversation is created at
// construction so the current pointer is never nil. Staleness is a derived
// predicate recomputed from wall-clock time when a switch is attempted;
// there is no background reaper, so sessions that were never switched to
// stay in the map for the life of the process.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Conversation
	current  *Conversation
	timeout  time.Duration
}

// NewStore creates a store whose sessions go stale after the given
// inactivity timeout.
func NewStore(timeout time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Conversation),
		timeout:  timeout,
	}
	s.current = s.register(nil)
	return s
}

func (s *Store) register(metadata map[string]string) *Conversation {
	now := time.Now()
	conv := &Conversation{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		LastUpdatedAt: now,
		Metadata:      make(map[string]string),
	}
	for k, v := range metadata {
		conv.Metadata[k] = v
	}
	s.sessions[conv.ID] = conv
	return conv
}

// StartNew creates a conversation, merges the given metadata, registers it
// and makes it current. It always succeeds and returns the new id.
func (s *Store) StartNew(metadata map[string]string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.register(metadata)
	s.current = conv
	return conv.ID
}

// Switch makes the session with the given id current. It returns false and
// leaves the current session unchanged when the id is unknown or the
// session has been inactive longer than the store timeout.
func (s *Store) Switch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[id]
	if !ok || conv.stale(s.timeout, time.Now()) {
		return false
	}
	s.current = conv
	return true
}

// ClearCurrent removes all messages from the current conversation and
// refreshes its activity timestamp.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Messages = nil
	s.current.LastUpdatedAt = time.Now()
}

// Append adds a message to the current conversation and refreshes its
// activity timestamp.
func (s *Store) Append(role Role, parts []Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.current.Messages = append(s.current.Messages, Message{
		Role:      role,
		Parts:     parts,
		CreatedAt: now,
	})
	s.current.LastUpdatedAt = now
}

// Current returns a snapshot of the active session. The message slice is
// copied so callers cannot mutate stored history.
func (s *Store) Current() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := *s.current
	snap.Messages = make([]Message, len(s.current.Messages))
	copy(snap.Messages, s.current.Messages)
	snap.Metadata = make(map[string]string, len(s.current.Metadata))
	for k, v := range s.current.Metadata {
		snap.Metadata[k] = v
	}
	return snap
}

// Len reports how many sessions the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
