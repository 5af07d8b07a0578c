package memstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/loopkit/quadra/internal/collab"
)

// DefaultBucket is the JetStream KV bucket holding kernel memory.
const DefaultBucket = "quadra_memory"

// NATSStore is a Memory backend on a JetStream key/value bucket. Keys use
// dots as path separators to stay within the KV key charset.
type NATSStore struct {
	bucket jetstream.KeyValue
}

// NewNATSStore connects the store to a bucket, creating it when absent.
// CreateOrUpdateKeyValue is idempotent, so concurrent startups are safe.
func NewNATSStore(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Orchestration kernel memory",
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket %s: %w", bucket, err)
	}
	return &NATSStore{bucket: kv}, nil
}

// Write persists value under key.
func (s *NATSStore) Write(ctx context.Context, key string, value []byte) error {
	if _, err := s.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Read returns the value and whether the key exists.
func (s *NATSStore) Read(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Search returns entries whose keys start with prefix, in key order.
func (s *NATSStore) Search(ctx context.Context, prefix string) ([]collab.Entry, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	var out []collab.Entry
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			// Deleted between Keys and Get is expected under concurrency.
			if errors.Is(err, jetstream.ErrKeyDeleted) || errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("kv get %s: %w", key, err)
		}
		out = append(out, collab.Entry{Key: key, Value: entry.Value()})
	}
	sortEntries(out)
	return out, nil
}

var _ collab.Memory = (*NATSStore)(nil)
