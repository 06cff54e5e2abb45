package cache

import (
	"sort"
	"sync"
	"time"
)

// evictTargetRatio is the fraction of the byte budget eviction drains to.
const evictTargetRatio = 0.8

type localEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Local is the process-local cache tier: a mutex-guarded map with byte
// accounting. Eviction purges expired entries first, then entries in
// ascending expiry order until usage falls to 80% of the budget.
type Local struct {
	mu     sync.Mutex
	budget int64
	used   int64
	items  map[string]localEntry
	now    func() time.Time
}

// NewLocal creates a local tier with the given byte budget.
// now is the clock source; nil uses time.Now (tests inject a fake).
func NewLocal(budget int64, now func() time.Time) *Local {
	if now == nil {
		now = time.Now
	}
	return &Local{
		budget: budget,
		items:  make(map[string]localEntry),
		now:    now,
	}
}

func entrySize(key string, payload []byte) int64 {
	return int64(len(key) + len(payload))
}

// Get returns the payload for key, or false on a miss. An expired entry is
// never returned; it is removed on sight.
func (l *Local) Get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.items[key]
	if !ok {
		return nil, false
	}
	if !ent.expiresAt.After(l.now()) {
		l.removeLocked(key, ent)
		return nil, false
	}
	return ent.payload, true
}

// Set stores payload under key until expiresAt.
func (l *Local) Set(key string, payload []byte, expiresAt time.Time) {
	size := entrySize(key, payload)
	if size > l.budget {
		return // single entry larger than the whole budget
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.items[key]; ok {
		l.used -= entrySize(key, old.payload)
	}
	l.items[key] = localEntry{payload: payload, expiresAt: expiresAt}
	l.used += size

	if l.used > l.budget {
		l.evictLocked()
	}
}

// Delete removes key.
func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.items[key]; ok {
		l.removeLocked(key, ent)
	}
}

// Used returns the current byte usage.
func (l *Local) Used() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Len returns the number of stored entries, expired or not.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *Local) removeLocked(key string, ent localEntry) {
	delete(l.items, key)
	l.used -= entrySize(key, ent.payload)
}

// evictLocked drains usage to evictTargetRatio of the budget: expired
// entries first, then ascending expiry order.
func (l *Local) evictLocked() {
	now := l.now()
	for key, ent := range l.items {
		if !ent.expiresAt.After(now) {
			l.removeLocked(key, ent)
		}
	}

	target := int64(float64(l.budget) * evictTargetRatio)
	if l.used <= target {
		return
	}

	type keyed struct {
		key       string
		expiresAt time.Time
	}
	order := make([]keyed, 0, len(l.items))
	for key, ent := range l.items {
		order = append(order, keyed{key: key, expiresAt: ent.expiresAt})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].expiresAt.Before(order[j].expiresAt) })

	for _, k := range order {
		if l.used <= target {
			return
		}
		l.removeLocked(k.key, l.items[k.key])
	}
}
