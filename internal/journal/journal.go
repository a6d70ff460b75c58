// Package journal records how listening sessions ended.
//
// Every finished session produces one [Entry]. Entries are written to a
// [Store]: [MemoryStore] keeps a bounded in-process history, the postgres
// sub-package persists them.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/speech"
)

// Entry is one finished listening session.
type Entry struct {
	SessionID     string        `json:"session_id"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at"`
	Outcome       string        `json:"outcome"`
	Transcript    string        `json:"transcript,omitempty"`
	AudioDuration time.Duration `json:"audio_duration"`
	Error         string        `json:"error,omitempty"`
}

// FromReport converts a session report into an entry.
func FromReport(r speech.Report) Entry {
	e := Entry{
		SessionID:     r.SessionID,
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		Outcome:       string(r.Outcome),
		Transcript:    r.Transcript,
		AudioDuration: r.AudioDuration,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Store persists journal entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// DefaultCapacity is the number of entries a [MemoryStore] keeps by default.
const DefaultCapacity = 256

// MemoryStore keeps the most recent entries in memory.
type MemoryStore struct {
	mu       sync.Mutex
	entries  []Entry // oldest first
	capacity int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store retaining capacity entries. A non-positive
// capacity uses [DefaultCapacity].
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

// Record implements [Store]. The oldest entry is evicted once full.
func (m *MemoryStore) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == m.capacity {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, e)
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
