// ABOUTME: Thread-safe in-memory registry with TTL expiry and a size bound
// ABOUTME: Evicts the oldest thread at capacity and sweeps expired threads in the background

package threads

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores a thread with its registration time and list element.
type memoryEntry struct {
	thread    Thread
	timestamp time.Time
	element   *list.Element
}

// MemoryRegistry provides a thread-safe, TTL-based, size-limited registry.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type MemoryRegistry struct {
	mu      sync.RWMutex
	threads map[string]*memoryEntry
	order   *list.List // thread ids in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// NewMemoryRegistry creates a registry with the given TTL and maximum size.
// A background goroutine periodically removes expired threads.
func NewMemoryRegistry(ttl time.Duration, maxSize int) *MemoryRegistry {
	r := &MemoryRegistry{
		threads: make(map[string]*memoryEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go r.cleanup()
	return r
}

// Register stores a thread, replacing any previous record with the same id.
// If the registry is at capacity the oldest thread is evicted.
func (r *MemoryRegistry) Register(ctx context.Context, t *Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now.UTC()
	}

	if entry, exists := r.threads[t.ID]; exists {
		entry.thread = *t
		entry.timestamp = now
		r.order.MoveToBack(entry.element)
		return nil
	}

	if r.maxSize > 0 && len(r.threads) >= r.maxSize {
		r.evictOldest()
	}

	elem := r.order.PushBack(t.ID)
	r.threads[t.ID] = &memoryEntry{
		thread:    *t,
		timestamp: now,
		element:   elem,
	}
	return nil
}

// Lookup returns a copy of the thread if it is registered and not expired.
func (r *MemoryRegistry) Lookup(ctx context.Context, id string) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.threads[id]
	if !ok || r.expired(entry, time.Now()) {
		return nil, ErrNotFound
	}
	t := entry.thread
	return &t, nil
}

// MarkCompleted flags the thread as finished without extending its lifetime.
func (r *MemoryRegistry) MarkCompleted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.threads[id]
	if !ok || r.expired(entry, time.Now()) {
		return ErrNotFound
	}
	entry.thread.Completed = true
	return nil
}

// Len returns the number of stored threads, including expired ones not yet swept.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

func (r *MemoryRegistry) expired(entry *memoryEntry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(entry.timestamp) >= r.ttl
}

// evictOldest removes the oldest thread. Must be called with mu held.
func (r *MemoryRegistry) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(string)
	r.order.Remove(front)
	delete(r.threads, id)
}

// cleanup runs in a background goroutine, periodically removing expired threads.
func (r *MemoryRegistry) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runCleanup()
		case <-r.done:
			return
		}
	}
}

// runCleanup removes all expired threads.
func (r *MemoryRegistry) runCleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, entry := range r.threads {
		if r.expired(entry, now) {
			r.order.Remove(entry.element)
			delete(r.threads, id)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
	return nil
}
