// Package sessions stores named conversations so a client can pick up
// where it left off.
package sessions

import (
	"context"
	"time"

	"github.com/alexschlessinger/pollyquery/reconciler"
)

// Metadata describes a stored conversation
type Metadata struct {
	Name        string    `json:"name"`
	Server      string    `json:"server,omitempty"`
	Description string    `json:"description,omitempty"`
	MaxMessages int       `json:"max_messages,omitempty"` // 0 keeps everything
	Created     time.Time `json:"created"`
	LastUsed    time.Time `json:"last_used"`
}

// Session is one named conversation. It is the reconciler's Repository:
// Save upserts a message by ID.
type Session interface {
	reconciler.Repository

	Name() string
	Metadata() *Metadata
	UpdateMetadata(*Metadata) error // Apply partial updates (only non-zero values)
	Clear(ctx context.Context) error
	Close() // Release resources (file locks, etc.)
}

// Store manages named sessions
type Store interface {
	Get(name string) (Session, error)
	Delete(name string) error
	List() ([]string, error)
	Exists(name string) bool
	AllMetadata() map[string]*Metadata // Read-only bulk operation
	Last() string                      // Name of the most recently used session
}
