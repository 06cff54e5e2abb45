package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestCodecRoundTripSmallPayloadStaysRaw(t *testing.T) {
	c := NewCodec(CompressionZSTD, 1024)
	raw := []byte("small payload")

	encoded := c.Encode(raw)
	assert.Equal(t, len(raw)+frameHeaderSize, len(encoded))
	assert.Equal(t, raw, c.Decode(encoded))
}

func TestCodecCompressesAboveThreshold(t *testing.T) {
	for _, algo := range []Compression{CompressionZSTD, CompressionLZ4} {
		c := NewCodec(algo, 64)
		raw := bytes.Repeat([]byte("abcdefgh"), 512) // highly compressible

		encoded := c.Encode(raw)
		assert.Less(t, len(encoded), len(raw))
		assert.Equal(t, raw, c.Decode(encoded))
	}
}

func TestCodecDecodeGarbageReturnsRaw(t *testing.T) {
	c := NewCodec(CompressionZSTD, 64)

	// Too short for a frame header.
	short := []byte{1, 2, 3}
	assert.Equal(t, short, c.Decode(short))

	// Valid header with corrupted compressed body.
	raw := bytes.Repeat([]byte("abcdefgh"), 512)
	encoded := c.Encode(raw)
	for i := frameHeaderSize; i < len(encoded); i++ {
		encoded[i] ^= 0xFF
	}
	assert.Equal(t, encoded, c.Decode(encoded))
}

func TestLocalGetSetDelete(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(1<<20, clock.Now)

	l.Set("k", []byte("v"), clock.Now().Add(time.Minute))
	got, ok := l.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	l.Delete("k")
	_, ok = l.Get("k")
	assert.False(t, ok)
}

func TestLocalTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(1<<20, clock.Now)

	l.Set("k", []byte("v"), clock.Now().Add(time.Minute))
	clock.Advance(time.Minute + time.Second)

	_, ok := l.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestLocalEvictionExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(100, clock.Now)

	// 5 entries of ~30 bytes fill the 100-byte budget past capacity.
	l.Set("exp1", bytes.Repeat([]byte("x"), 26), clock.Now().Add(time.Second))
	l.Set("exp2", bytes.Repeat([]byte("x"), 26), clock.Now().Add(time.Second))
	clock.Advance(2 * time.Second)

	l.Set("live", bytes.Repeat([]byte("x"), 26), clock.Now().Add(time.Hour))
	l.Set("live2", bytes.Repeat([]byte("x"), 25), clock.Now().Add(time.Hour))

	// Pushing over budget purges the expired entries and keeps the live ones.
	_, ok := l.Get("live")
	assert.True(t, ok)
	_, ok = l.Get("live2")
	assert.True(t, ok)
	_, ok = l.Get("exp1")
	assert.False(t, ok)
}

func TestLocalEvictionAscendingExpiry(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(100, clock.Now)

	l.Set("soon", bytes.Repeat([]byte("x"), 26), clock.Now().Add(time.Minute))
	l.Set("later", bytes.Repeat([]byte("x"), 25), clock.Now().Add(time.Hour))
	l.Set("latest", bytes.Repeat([]byte("x"), 24), clock.Now().Add(24*time.Hour))
	l.Set("overflow", bytes.Repeat([]byte("x"), 22), clock.Now().Add(48*time.Hour))

	// Usage must fall to <= 80% of budget, dropping earliest expiries first.
	assert.LessOrEqual(t, l.Used(), int64(80))
	_, ok := l.Get("soon")
	assert.False(t, ok)
	_, ok = l.Get("latest")
	assert.True(t, ok)
	_, ok = l.Get("overflow")
	assert.True(t, ok)
}

func TestLocalRejectsOversizedEntry(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(10, clock.Now)

	l.Set("big", bytes.Repeat([]byte("x"), 64), clock.Now().Add(time.Hour))
	_, ok := l.Get("big")
	assert.False(t, ok)
	assert.Equal(t, int64(0), l.Used())
}

func TestTieredGetAfterSet(t *testing.T) {
	clock := newFakeClock()
	tc := NewTiered(TieredOptions{
		Remote: NewMemoryRemote(clock.Now),
		Clock:  clock.Now,
	})
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("value"), time.Minute)

	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	clock.Advance(time.Minute + time.Second)
	_, ok = tc.Get(ctx, "k")
	assert.False(t, ok)
}

func TestTieredRemoteFirst(t *testing.T) {
	clock := newFakeClock()
	remote := NewMemoryRemote(clock.Now)
	tc := NewTiered(TieredOptions{Remote: remote, Clock: clock.Now})
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("value"), time.Minute)
	_, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(1), tc.Stats().RemoteHits)
	assert.Equal(t, int64(0), tc.Stats().LocalHits)
}

func TestTieredDegradesWhenRemoteDown(t *testing.T) {
	clock := newFakeClock()
	remote := NewMemoryRemote(clock.Now)
	tc := NewTiered(TieredOptions{Remote: remote, Clock: clock.Now})
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("value"), time.Minute)

	remote.FailAll = true

	// Remote failure must never surface; the local tier still serves.
	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
	assert.Positive(t, tc.Stats().RemoteErrors)

	// Writes degrade to local-only without error as well.
	tc.Set(ctx, "k2", []byte("v2"), time.Minute)
	got, ok = tc.Get(ctx, "k2")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)

	tc.Delete(ctx, "k2")
	_, ok = tc.Get(ctx, "k2")
	assert.False(t, ok)
}

func TestTieredLocalOnlyWithoutRemote(t *testing.T) {
	clock := newFakeClock()
	tc := NewTiered(TieredOptions{Clock: clock.Now})
	ctx := context.Background()

	tc.Set(ctx, "k", []byte("value"), time.Minute)
	got, ok := tc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)
}

func TestTieredMGetMSet(t *testing.T) {
	clock := newFakeClock()
	remote := NewMemoryRemote(clock.Now)
	tc := NewTiered(TieredOptions{Remote: remote, Clock: clock.Now})
	ctx := context.Background()

	tc.MSet(ctx, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
	}, time.Minute)

	got := tc.MGet(ctx, []string{"a", "b", "missing"})
	assert.Equal(t, []byte("1"), got["a"])
	assert.Equal(t, []byte("2"), got["b"])
	_, ok := got["missing"]
	assert.False(t, ok)
}

func TestTieredMGetDegradesToLocal(t *testing.T) {
	clock := newFakeClock()
	remote := NewMemoryRemote(clock.Now)
	tc := NewTiered(TieredOptions{Remote: remote, Clock: clock.Now})
	ctx := context.Background()

	tc.MSet(ctx, map[string][]byte{"a": []byte("1")}, time.Minute)
	remote.FailAll = true

	got := tc.MGet(ctx, []string{"a"})
	assert.Equal(t, []byte("1"), got["a"])
}

func TestTieredLargePayloadCompression(t *testing.T) {
	clock := newFakeClock()
	remote := NewMemoryRemote(clock.Now)
	tc := NewTiered(TieredOptions{Remote: remote, Clock: clock.Now, CompressThreshold: 128})
	ctx := context.Background()

	large := bytes.Repeat([]byte("embedding"), 1024)
	tc.Set(ctx, "big", large, time.Minute)

	// The remote tier holds the compressed frame, not the raw payload.
	stored, ok, err := remote.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, len(stored), len(large))

	got, ok := tc.Get(ctx, "big")
	require.True(t, ok)
	assert.Equal(t, large, got)
}
