// Package presence tracks the online status shown next to each account.
package presence

import (
	"context"
	"sync"
	"time"
)

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	}
	return false
}

// Tracker records account presence. Entries expire after the tracker's TTL
// unless refreshed, so a crashed process does not leave accounts online.
type Tracker interface {
	Set(ctx context.Context, accountID, status string) error
	Clear(ctx context.Context, accountID string) error
	Status(ctx context.Context, accountID string) (string, error)
	Online(ctx context.Context) (map[string]string, error)
}

type memoryEntry struct {
	status    string
	expiresAt time.Time
}

// MemoryTracker is the Tracker used when no Redis server is configured.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ Tracker = (*MemoryTracker)(nil)

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (t *MemoryTracker) Set(_ context.Context, accountID, status string) error {
	if status == StatusOffline {
		return t.Clear(context.Background(), accountID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[accountID] = memoryEntry{status: status, expiresAt: t.now().Add(t.ttl)}
	return nil
}

func (t *MemoryTracker) Clear(_ context.Context, accountID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, accountID)
	return nil
}

func (t *MemoryTracker) Status(_ context.Context, accountID string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[accountID]
	if !ok || t.now().After(e.expiresAt) {
		return StatusOffline, nil
	}
	return e.status, nil
}

func (t *MemoryTracker) Online(_ context.Context) (map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	online := make(map[string]string, len(t.entries))
	for id, e := range t.entries {
		if now.After(e.expiresAt) {
			delete(t.entries, id)
			continue
		}
		online[id] = e.status
	}
	return online, nil
}
