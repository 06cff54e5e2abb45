package cache

import (
	"context"
	"sync"
	"time"
)

// Item is a key/payload pair with an absolute expiry, the unit of remote
// tier batch operations.
type Item struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time
}

// Remote is the distributed cache tier shared across process instances.
//
// The remote tier is advisory, never authoritative: it may be flushed or
// lost at any time without affecting correctness, and every error from it
// is treated as a miss by the tiered cache rather than surfaced.
type Remote interface {
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)
	Set(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSet(ctx context.Context, items []Item) error
}

// MemoryRemote is an in-process Remote used by tests and single-node
// deployments. FailAll simulates a distributed-tier outage.
type MemoryRemote struct {
	mu    sync.RWMutex
	items map[string]Item
	now   func() time.Time

	// FailAll makes every operation return ErrRemoteDown when set.
	FailAll bool
	// Calls counts operations that reached the tier, including failed ones.
	Calls int
}

// ErrRemoteDown is the failure MemoryRemote injects when FailAll is set.
var ErrRemoteDown = errRemoteDown{}

type errRemoteDown struct{}

func (errRemoteDown) Error() string { return "remote cache tier unavailable" }

// NewMemoryRemote creates an in-memory remote tier.
// now is the clock source; nil uses time.Now.
func NewMemoryRemote(now func() time.Time) *MemoryRemote {
	if now == nil {
		now = time.Now
	}
	return &MemoryRemote{items: make(map[string]Item), now: now}
}

func (m *MemoryRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.FailAll {
		return nil, false, ErrRemoteDown
	}
	item, ok := m.items[key]
	if !ok || !item.ExpiresAt.After(m.now()) {
		return nil, false, nil
	}
	return item.Payload, true, nil
}

func (m *MemoryRemote) Set(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.FailAll {
		return ErrRemoteDown
	}
	m.items[item.Key] = item
	return nil
}

func (m *MemoryRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.FailAll {
		return ErrRemoteDown
	}
	delete(m.items, key)
	return nil
}

func (m *MemoryRemote) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		payload, ok, err := m.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = payload
		}
	}
	return out, nil
}

func (m *MemoryRemote) MSet(ctx context.Context, items []Item) error {
	for _, item := range items {
		if err := m.Set(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

var _ Remote = (*MemoryRemote)(nil)
