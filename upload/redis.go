package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure a RedisRepository.
type RedisOptions struct {
	Prefix string        // key prefix, default "hybridrag:"
	TTL    time.Duration // record expiry, default 0 (never)
}

// RedisRepository stores upload records as JSON values in Redis.
type RedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRepository connects to the Redis server at url
// (redis://[:password@]host:port/db).
func NewRedisRepository(url string, opts RedisOptions) (*RedisRepository, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisRepositoryWithClient(redis.NewClient(o), opts), nil
}

// NewRedisRepositoryWithClient uses an existing client.
func NewRedisRepositoryWithClient(client redis.UniversalClient, opts RedisOptions) *RedisRepository {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "hybridrag:"
	}
	return &RedisRepository{client: client, prefix: prefix, ttl: opts.TTL}
}

func (r *RedisRepository) key(id string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, defaultTable, id)
}

// InitSchema checks the connection; Redis needs no schema.
func (r *RedisRepository) InitSchema(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Create stores a new record. An existing id is an error.
func (r *RedisRepository) Create(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal upload %s: %w", rec.ID, err)
	}
	ok, err := r.client.SetNX(ctx, r.key(rec.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to insert upload %s: %w", rec.ID, err)
	}
	if !ok {
		return fmt.Errorf("upload %s already exists", rec.ID)
	}
	return nil
}

// Get loads a record by id.
func (r *RedisRepository) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load upload %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upload %s: %w", id, err)
	}
	return &rec, nil
}

// UpdateStatus moves a record to status, recording message on failure.
// The read-modify-write runs under WATCH so concurrent updates retry.
func (r *RedisRepository) UpdateStatus(ctx context.Context, id string, status Status, message string) error {
	key := r.key(id)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.Status, rec.Error, rec.UpdatedAt = status, message, time.Now().UTC()
		if data, err = json.Marshal(&rec); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}

	for range 3 {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to update upload %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("failed to update upload %s: too much contention", id)
}

// Close closes the client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
