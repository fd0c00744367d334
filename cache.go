package main

import (
	"context"
	"sync"
	"time"
)

// Cache is the volatile store of current document content, keyed by
// document id. A hit extends the entry's TTL deadline; a write resets it
// to the full window. Expiry is passive: an entry whose deadline has
// elapsed is simply absent on the next Get.
type Cache interface {
	Get(ctx context.Context, docID string) (string, bool, error)
	SetWithTTL(ctx context.Context, docID, content string) error
}

type cacheEntry struct {
	Content   string
	ExpiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (mc *MemoryCache) Get(_ context.Context, docID string) (string, bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.entries[docID]
	if !exists {
		return "", false, nil
	}

	now := mc.now()
	if now.After(entry.ExpiresAt) {
		delete(mc.entries, docID)
		return "", false, nil
	}

	// Reading is an access: push the deadline out by the full window.
	entry.ExpiresAt = now.Add(mc.ttl)
	return entry.Content, true, nil
}

func (mc *MemoryCache) SetWithTTL(_ context.Context, docID, content string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries[docID] = &cacheEntry{
		Content:   content,
		ExpiresAt: mc.now().Add(mc.ttl),
	}
	return nil
}
