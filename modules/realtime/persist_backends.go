package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	kvjetstream "github.com/go-monolith/mono/plugin/kv-jetstream"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

// ============================================================
// kv-jetstream plugin (embedded NATS)
// ============================================================

// KVPersister stores documents in a bucket of the mono kv-jetstream plugin.
type KVPersister struct {
	bucket kvjetstream.KVStoragePort
}

// NewKVPersister wraps a kv-jetstream bucket.
func NewKVPersister(bucket kvjetstream.KVStoragePort) *KVPersister {
	return &KVPersister{bucket: bucket}
}

// Name returns the backend name.
func (p *KVPersister) Name() string { return "kv" }

// Load reads every document in the bucket.
func (p *KVPersister) Load(_ context.Context) (map[string][]byte, error) {
	keys, err := p.bucket.Keys()
	if err != nil {
		if isNoKeys(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	docs := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := p.bucket.Get(key)
		if err != nil {
			if errors.Is(err, kvjetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get %s: %w", key, err)
		}
		docs[key] = data
	}
	return docs, nil
}

// Save stores a document without expiry.
func (p *KVPersister) Save(_ context.Context, key string, doc []byte) error {
	return p.bucket.Set(key, doc, 0)
}

// Remove deletes a document.
func (p *KVPersister) Remove(_ context.Context, key string) error {
	err := p.bucket.Delete(key)
	if errors.Is(err, kvjetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close is a no-op; the plugin owns the connection.
func (p *KVPersister) Close() error { return nil }

func isNoKeys(err error) bool {
	return errors.Is(err, kvjetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrNoKeysFound) ||
		strings.Contains(err.Error(), "no keys found")
}

// ============================================================
// External NATS JetStream KV
// ============================================================

// NATSPersister stores documents in a JetStream KV bucket on an external
// NATS server.
type NATSPersister struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	bucket jetstream.KeyValue
}

// NewNATSPersister connects to natsURL and opens or creates the bucket.
func NewNATSPersister(ctx context.Context, natsURL, bucketName string) (*NATSPersister, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("ephemeral-chat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bucket, err := js.KeyValue(ctx, bucketName)
	if err != nil {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucketName,
			Description: "Realtime store room subtrees",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}
	}

	return &NATSPersister{conn: conn, js: js, bucket: bucket}, nil
}

// Name returns the backend name.
func (p *NATSPersister) Name() string { return "nats" }

// Load reads every document in the bucket.
func (p *NATSPersister) Load(ctx context.Context) (map[string][]byte, error) {
	keys, err := p.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	docs := make(map[string][]byte, len(keys))
	for _, key := range keys {
		entry, err := p.bucket.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get %s: %w", key, err)
		}
		docs[key] = entry.Value()
	}
	return docs, nil
}

// Save stores a document.
func (p *NATSPersister) Save(ctx context.Context, key string, doc []byte) error {
	_, err := p.bucket.Put(ctx, key, doc)
	return err
}

// Remove deletes a document.
func (p *NATSPersister) Remove(ctx context.Context, key string) error {
	err := p.bucket.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Close drains the NATS connection.
func (p *NATSPersister) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// ============================================================
// Redis
// ============================================================

// RedisPersister stores documents as Redis strings under a key prefix.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// NewRedisPersister creates a Redis-backed persister and checks connectivity.
func NewRedisPersister(ctx context.Context, addr, prefix string) (*RedisPersister, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return &RedisPersister{client: client, prefix: prefix}, nil
}

// Name returns the backend name.
func (p *RedisPersister) Name() string { return "redis" }

// Load scans every key under the prefix.
func (p *RedisPersister) Load(ctx context.Context) (map[string][]byte, error) {
	docs := make(map[string][]byte)
	var cursor uint64
	for {
		keys, next, err := p.client.Scan(ctx, cursor, p.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, full := range keys {
			data, err := p.client.Get(ctx, full).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("failed to get %s: %w", full, err)
			}
			docs[strings.TrimPrefix(full, p.prefix)] = data
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return docs, nil
}

// Save stores a document without expiry.
func (p *RedisPersister) Save(ctx context.Context, key string, doc []byte) error {
	return p.client.Set(ctx, p.prefix+key, doc, 0).Err()
}

// Remove deletes a document.
func (p *RedisPersister) Remove(ctx context.Context, key string) error {
	return p.client.Del(ctx, p.prefix+key).Err()
}

// Close closes the Redis client.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}

// ============================================================
// In-memory
// ============================================================

// MemoryPersister keeps documents in memory. It backs tests and the "none"
// backend's restart-free deployments.
type MemoryPersister struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryPersister creates an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{docs: make(map[string][]byte)}
}

// Name returns the backend name.
func (p *MemoryPersister) Name() string { return "memory" }

// Load returns a copy of all documents.
func (p *MemoryPersister) Load(_ context.Context) (map[string][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]byte, len(p.docs))
	for k, v := range p.docs {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// Save stores a document.
func (p *MemoryPersister) Save(_ context.Context, key string, doc []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[key] = append([]byte(nil), doc...)
	return nil
}

// Remove deletes a document.
func (p *MemoryPersister) Remove(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.docs, key)
	return nil
}

// Close is a no-op.
func (p *MemoryPersister) Close() error { return nil }

// Keys returns the stored keys.
func (p *MemoryPersister) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.docs))
	for k := range p.docs {
		keys = append(keys, k)
	}
	return keys
}
