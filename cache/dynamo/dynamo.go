// Package dynamo provides a DynamoDB-backed remote cache tier.
//
// Items are keyed by a single string partition key holding the cache key,
// with the framed payload stored as binary and the expiry as an epoch-seconds
// number. Point the table's TTL configuration at the expires_at attribute so
// DynamoDB reaps expired items in the background; reads double-check expiry
// so a not-yet-reaped item is never served stale.
//
// Table schema:
//   - Partition key: cache_key (string)
//   - Attribute: payload (binary)
//   - Attribute: expires_at (number, epoch seconds, used as the TTL attribute)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name matchengine-cache \
//	  --attribute-definitions AttributeName=cache_key,AttributeType=S \
//	  --key-schema AttributeName=cache_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
//	aws dynamodb update-time-to-live \
//	  --table-name matchengine-cache \
//	  --time-to-live-specification Enabled=true,AttributeName=expires_at
package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/vyaamik/matchengine/cache"
)

const (
	attrKey       = "cache_key"
	attrPayload   = "payload"
	attrExpiresAt = "expires_at"

	// batchConcurrency bounds parallel per-key calls in MGet/MSet.
	batchConcurrency = 8
)

// Client is the interface for DynamoDB operations.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Remote implements cache.Remote on a DynamoDB table.
type Remote struct {
	client    Client
	tableName string
	now       func() time.Time
}

var _ cache.Remote = (*Remote)(nil)

// Options configures a Remote.
type Options struct {
	// Clock overrides the time source for expiry checks. Defaults to time.Now.
	Clock func() time.Time
}

// New creates a DynamoDB remote tier over the given table.
func New(client Client, tableName string, opts ...Options) *Remote {
	r := &Remote{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
	if len(opts) > 0 && opts[0].Clock != nil {
		r.now = opts[0].Clock
	}
	return r
}

func (r *Remote) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

// Get fetches a payload. A missing or expired item reports ok=false, nil error.
func (r *Remote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(key),
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, false, fmt.Errorf("dynamo get %q: %w", key, err)
	}
	if out.Item == nil {
		return nil, false, nil
	}

	payloadAttr, ok := out.Item[attrPayload].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false, fmt.Errorf("dynamo get %q: malformed payload attribute", key)
	}
	expiryAttr, ok := out.Item[attrExpiresAt].(*types.AttributeValueMemberN)
	if !ok {
		return nil, false, fmt.Errorf("dynamo get %q: malformed expires_at attribute", key)
	}
	expiresAt, err := strconv.ParseInt(expiryAttr.Value, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("dynamo get %q: parse expires_at: %w", key, err)
	}

	// TTL reaping is eventual; never serve an item past its expiry.
	if !r.now().Before(time.Unix(expiresAt, 0)) {
		return nil, false, nil
	}
	return payloadAttr.Value, true, nil
}

// Set writes a payload with its expiry.
func (r *Remote) Set(ctx context.Context, item cache.Item) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			attrKey:       &types.AttributeValueMemberS{Value: item.Key},
			attrPayload:   &types.AttributeValueMemberB{Value: item.Payload},
			attrExpiresAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(item.ExpiresAt.Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo set %q: %w", item.Key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (r *Remote) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(key),
	})
	if err != nil {
		return fmt.Errorf("dynamo delete %q: %w", key, err)
	}
	return nil
}

// MGet fetches keys with bounded per-key fan-out. The first failure cancels
// the remaining fetches and is returned.
func (r *Remote) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	var mu sync.Mutex
	found := make(map[string][]byte, len(keys))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			payload, ok, err := r.Get(ctx, key)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				found[key] = payload
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// MSet writes items with bounded per-key fan-out.
func (r *Remote) MSet(ctx context.Context, items []cache.Item) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for _, item := range items {
		g.Go(func() error {
			return r.Set(ctx, item)
		})
	}
	return g.Wait()
}
