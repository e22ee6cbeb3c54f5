package prefs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is an in-memory Backend used by tests and the memory driver.
// Every save stamps a fresh ETag and UpdatedAt.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	snapshot Preferences
	meta     Meta
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: map[string]memoryRecord{}, now: time.Now}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, ref Ref) (Preferences, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Preferences{}, Meta{}, false, err
	}

	b.mu.RLock()
	record, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return Preferences{}, Meta{}, false, nil
	}
	return record.snapshot.Clone(), record.meta.clone(), true, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, ref Ref, snapshot Preferences, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	saved := meta.clone()
	if saved.SnapshotID == "" {
		saved.SnapshotID = uuid.NewString()
	}
	saved.ETag = uuid.NewString()
	saved.UpdatedAt = b.now().UTC()

	b.mu.Lock()
	b.records[key] = memoryRecord{snapshot: snapshot.Clone(), meta: saved.clone()}
	b.mu.Unlock()
	return saved, nil
}

// Delete implements Backend. Deleting a missing record is not an error.
func (b *MemoryBackend) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.records, key)
	b.mu.Unlock()
	return nil
}

// Len returns the number of stored snapshots.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}
