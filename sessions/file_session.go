package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alexschlessinger/pollyquery/reconciler"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	lockTimeout      = 10 * time.Second
	lockPollInterval = 100 * time.Millisecond
)

// FileSession is a conversation persisted as one JSON file. It holds an
// exclusive lock on the file until Close.
type FileSession struct {
	History []reconciler.Message `json:"history"`
	Meta    *Metadata            `json:"metadata"`
	path    string
	lock    *flock.Flock
	mu      sync.RWMutex
}

// FileStore keeps one JSON file per conversation in a directory
type FileStore struct {
	baseDir  string
	defaults *Metadata // Default values for new conversations
}

// DefaultDir returns ~/.pollyquery/conversations
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pollyquery", "conversations"), nil
}

// NewFileStore creates a file-based store under baseDir, or DefaultDir when
// baseDir is empty
func NewFileStore(baseDir string, defaults *Metadata) (*FileStore, error) {
	if defaults == nil {
		defaults = &Metadata{}
	}

	if baseDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}

	return &FileStore{baseDir: baseDir, defaults: defaults}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

// Get opens or creates a conversation, waiting up to ten seconds for
// another process holding it to let go
func (s *FileStore) Get(name string) (Session, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid conversation name '%s': %w", name, err)
	}

	sessionPath := s.path(name)
	fileLock := flock.New(sessionPath)

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(ctx, lockPollInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock on conversation %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire lock on conversation %s within %v", name, lockTimeout)
	}

	now := time.Now()
	session := &FileSession{path: sessionPath, lock: fileLock}

	data, err := os.ReadFile(sessionPath)
	if err == nil && len(data) > 0 {
		if err := decodeSession(data, session); err != nil {
			fileLock.Unlock()
			return nil, fmt.Errorf("conversation %s is corrupt: %w", name, err)
		}
	}
	if session.Meta == nil {
		session.Meta = newMetadata(name, s.defaults, now)
	}
	session.Meta.LastUsed = now

	if err := session.save(); err != nil {
		fileLock.Unlock()
		return nil, err
	}
	return session, nil
}

// Delete removes a conversation file
func (s *FileStore) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	// unlinking while another process holds the lock is fine; its open
	// descriptor keeps the file alive for it
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("conversation %s does not exist", name)
	}
	return err
}

func (s *FileStore) names() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return names, nil
}

// List returns all conversation names
func (s *FileStore) List() ([]string, error) {
	names, err := s.names()
	if err != nil {
		return nil, err
	}
	return sortedNames(names), nil
}

// Exists checks if a conversation exists without creating it
func (s *FileStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// AllMetadata reads the metadata of every conversation without locking
func (s *FileStore) AllMetadata() map[string]*Metadata {
	result := make(map[string]*Metadata)
	names, err := s.names()
	if err != nil {
		return result
	}

	for _, name := range names {
		data, err := os.ReadFile(s.path(name))
		if err != nil {
			continue
		}
		var session FileSession
		if err := decodeSession(data, &session); err != nil || session.Meta == nil {
			zap.S().Debugw("conversation_unreadable", "name", name, "error", err)
			continue
		}
		result[name] = session.Meta
	}
	return result
}

// Last returns the most recently used conversation by file modification time
func (s *FileStore) Last() string {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return ""
	}

	var lastFile string
	var lastTime time.Time
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(lastTime) {
			lastTime = info.ModTime()
			lastFile = strings.TrimSuffix(entry.Name(), ".json")
		}
	}
	return lastFile
}

// BaseDir returns the directory conversations are stored in
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// Load returns a copy of the history
func (s *FileSession) Load(ctx context.Context) ([]reconciler.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CopyHistory(s.History), nil
}

// Save upserts msg by ID and writes the file
func (s *FileSession) Save(ctx context.Context, msg reconciler.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.History = TrimHistory(UpsertMessage(s.History, msg), s.Meta.MaxMessages)
	s.Meta.LastUsed = time.Now()
	return s.save()
}

// Clear drops the history and keeps the metadata
func (s *FileSession) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = nil
	return s.save()
}

// Name returns the conversation name
func (s *FileSession) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Meta.Name
}

// Metadata returns a copy of the conversation metadata
func (s *FileSession) Metadata() *Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := *s.Meta
	return &out
}

// UpdateMetadata applies a partial update to the metadata
func (s *FileSession) UpdateMetadata(update *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Meta = MergeMetadata(s.Meta, update)
	return s.save()
}

// save writes the session; callers hold mu
func (s *FileSession) save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write conversation: %w", err)
	}
	return nil
}

// Close releases the file lock
func (s *FileSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		s.lock.Unlock()
		s.lock = nil
	}
}

// decodeSession keeps result cells as json.Number, matching the wire form
func decodeSession(data []byte, session *FileSession) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(session)
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}
