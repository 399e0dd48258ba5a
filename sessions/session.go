package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/alexschlessinger/pollyquery/reconciler"
)

// MemorySession is an in-memory conversation
type MemorySession struct {
	mu       sync.RWMutex
	history  []reconciler.Message
	metadata *Metadata
}

// MemoryStore is a thread-safe in-memory session store
type MemoryStore struct {
	sessions sync.Map
	defaults *Metadata // Default values for new conversations
}

// NewMemoryStore creates an in-memory store. defaults seeds the metadata of
// new conversations.
func NewMemoryStore(defaults *Metadata) *MemoryStore {
	if defaults == nil {
		defaults = &Metadata{}
	}
	return &MemoryStore{defaults: defaults}
}

// Get retrieves or creates a session
func (s *MemoryStore) Get(name string) (Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	now := time.Now()
	fresh := &MemorySession{metadata: newMetadata(name, s.defaults, now)}
	value, loaded := s.sessions.LoadOrStore(name, fresh)
	session := value.(*MemorySession)
	if loaded {
		session.touch(now)
	}
	return session, nil
}

// Delete removes a session
func (s *MemoryStore) Delete(name string) error {
	s.sessions.Delete(name)
	return nil
}

// List returns all session names
func (s *MemoryStore) List() ([]string, error) {
	var names []string
	s.sessions.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	return sortedNames(names), nil
}

// Exists checks if a session exists without creating it
func (s *MemoryStore) Exists(name string) bool {
	_, ok := s.sessions.Load(name)
	return ok
}

// AllMetadata returns metadata for every session
func (s *MemoryStore) AllMetadata() map[string]*Metadata {
	result := make(map[string]*Metadata)
	s.sessions.Range(func(key, value any) bool {
		result[key.(string)] = value.(*MemorySession).Metadata()
		return true
	})
	return result
}

// Last returns the name of the most recently used session
func (s *MemoryStore) Last() string {
	var last string
	var lastTime time.Time
	s.sessions.Range(func(key, value any) bool {
		if used := value.(*MemorySession).Metadata().LastUsed; used.After(lastTime) {
			lastTime = used
			last = key.(string)
		}
		return true
	})
	return last
}

// Load returns a copy of the history
func (s *MemorySession) Load(ctx context.Context) ([]reconciler.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CopyHistory(s.history), nil
}

// Save upserts msg by ID
func (s *MemorySession) Save(ctx context.Context, msg reconciler.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = TrimHistory(UpsertMessage(s.history, msg), s.metadata.MaxMessages)
	s.metadata.LastUsed = time.Now()
	return nil
}

// Clear drops the history and keeps the metadata
func (s *MemorySession) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	return nil
}

// Name returns the session name
func (s *MemorySession) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata.Name
}

// Metadata returns a copy of the session metadata
func (s *MemorySession) Metadata() *Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *s.metadata
	return &out
}

// UpdateMetadata applies a partial update to the metadata
func (s *MemorySession) UpdateMetadata(update *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = MergeMetadata(s.metadata, update)
	return nil
}

func (s *MemorySession) touch(now time.Time) {
	s.mu.Lock()
	s.metadata.LastUsed = now
	s.mu.Unlock()
}

// Close is a no-op for in-memory sessions
func (s *MemorySession) Close() {}

func newMetadata(name string, defaults *Metadata, now time.Time) *Metadata {
	return &Metadata{
		Name:        name,
		Server:      defaults.Server,
		Description: defaults.Description,
		MaxMessages: defaults.MaxMessages,
		Created:     now,
		LastUsed:    now,
	}
}
