package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dan9191/incast-service/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps blobs as plain redis strings under "<bucket>:<key>"
type RedisStore struct {
	client *redis.Client
	bucket string
}

// NewRedisStore creates a blob store on the given redis client
func NewRedisStore(client *redis.Client, bucket string) *RedisStore {
	return &RedisStore{client: client, bucket: bucket}
}

func (r *RedisStore) fullKey(key string) string {
	return r.bucket + ":" + key
}

// Put writes data under key without expiration
func (r *RedisStore) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

// Get retrieves the blob stored under key
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return data, nil
}

// List scans the keys of the bucket starting with prefix
func (r *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, globEscape(r.fullKey(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.bucket+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}

// Close closes the redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func globEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
