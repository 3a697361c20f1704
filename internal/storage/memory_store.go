package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	preview   Preview
	expiresAt time.Time
}

// MemoryStore keeps previews in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store; ttl <= 0 keeps entries until deleted
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := newHandle()
	entry := memoryEntry{preview: Preview{Data: append([]byte(nil), data...), MIMEType: mimeType}}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[handle] = entry
	return handle, nil
}

func (s *MemoryStore) Get(ctx context.Context, handle string) (*Preview, error) {
	s.mu.RLock()
	entry, ok := s.entries[handle]
	s.mu.RUnlock()

	if !ok || s.expired(entry) {
		return nil, ErrPreviewNotFound
	}
	preview := entry.preview
	return &preview, nil
}

// Delete is idempotent
func (s *MemoryStore) Delete(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, handle)
	return nil
}

// Len reports live entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

func (s *MemoryStore) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)
}

func (s *MemoryStore) sweepLocked() {
	for handle, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, handle)
		}
	}
}
