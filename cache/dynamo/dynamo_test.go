package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyaamik/matchengine/cache"
)

// fakeDDB implements Client against an in-memory table.
type fakeDDB struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDDB() *fakeDDB {
	return &fakeDDB{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDB) keyOf(key map[string]types.AttributeValue) string {
	return key[attrKey].(*types.AttributeValueMemberS).Value
}

func (f *fakeDDB) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	item, ok := f.items[f.keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDDB) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[f.keyOf(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDB) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, f.keyOf(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestRemoteRoundTrip(t *testing.T) {
	ddb := newFakeDDB()
	r := New(ddb, "test-cache")
	ctx := context.Background()

	err := r.Set(ctx, cache.Item{
		Key:       "k",
		Payload:   []byte("payload"),
		ExpiresAt: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)

	got, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, r.Delete(ctx, "k"))
	_, ok, err = r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteGetMissing(t *testing.T) {
	r := New(newFakeDDB(), "test-cache")

	_, ok, err := r.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteExpiredItemNotServed(t *testing.T) {
	ddb := newFakeDDB()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := New(ddb, "test-cache", Options{Clock: func() time.Time { return now }})
	ctx := context.Background()

	// TTL reaping has not run yet; the item is still in the table.
	err := r.Set(ctx, cache.Item{
		Key:       "k",
		Payload:   []byte("payload"),
		ExpiresAt: now.Add(-time.Second),
	})
	require.NoError(t, err)

	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteMGetMSet(t *testing.T) {
	ddb := newFakeDDB()
	r := New(ddb, "test-cache")
	ctx := context.Background()

	expires := time.Now().Add(time.Minute)
	err := r.MSet(ctx, []cache.Item{
		{Key: "a", Payload: []byte("1"), ExpiresAt: expires},
		{Key: "b", Payload: []byte("2"), ExpiresAt: expires},
	})
	require.NoError(t, err)

	found, err := r.MGet(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, found)
}

func TestRemotePropagatesClientError(t *testing.T) {
	ddb := newFakeDDB()
	ddb.err = errors.New("throttled")
	r := New(ddb, "test-cache")
	ctx := context.Background()

	_, _, err := r.Get(ctx, "k")
	assert.Error(t, err)

	err = r.Set(ctx, cache.Item{Key: "k", Payload: []byte("v"), ExpiresAt: time.Now().Add(time.Minute)})
	assert.Error(t, err)

	_, err = r.MGet(ctx, []string{"a", "b"})
	assert.Error(t, err)
}
