// Package store is the append-only action log collaborator. Every session
// state transition is recorded as one entry; the log's storage schema is
// owned by the persistence service, not by the voice runtime.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one appended action record.
type Entry struct {
	ID        string
	Kind      string
	GuildID   string
	ChannelID string
	UserID    string
	Content   string
	Metadata  map[string]any
	At        time.Time
}

// ActionLogger appends structured action records. Implementations must be
// safe for concurrent use; append failures are the implementation's problem
// to surface, callers treat logging as fire-and-forget.
type ActionLogger interface {
	Append(ctx context.Context, e Entry) error
}

// Memory is an in-process ActionLogger used by tests and as a default.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a snapshot of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Kinds returns the kinds appended so far, in order. Test helper.
func (m *Memory) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Kind
	}
	return out
}
