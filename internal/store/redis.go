// Package store keeps gallery doodles in Redis.
//
// Layout: the sorted set "gallery_ids" indexes every live doodle id (scored
// by creation time) and "doodle:{id}" is a hash holding one record. Every
// mutation touching both keys runs as a Lua script or inside MULTI/EXEC so
// the index and the records never disagree once a call returns.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/redis/go-redis/v9"
)

const (
	IndexKey        = "gallery_ids"
	doodleKeyPrefix = "doodle:"
)

const storeFailureMessage = "갤러리 저장소에 접근할 수 없습니다."

// KEYS[1] record, KEYS[2] index; ARGV id, image, title, created_at.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'image', ARGV[2], 'title', ARGV[3], 'likes', '0', 'created_at', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// KEYS[1] record, KEYS[2] index; ARGV id, delta. Returns -1 when the id is
// not indexed or its record is gone.
var likesScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local likes = redis.call('HINCRBY', KEYS[1], 'likes', ARGV[2])
if likes < 0 then
  redis.call('HSET', KEYS[1], 'likes', '0')
  likes = 0
end
return likes
`)

// RedisStore implements gallery storage using Redis
type RedisStore struct {
	client   *redis.Client
	indexKey string
	prefix   string
}

// NewRedisStore connects to redisURL. timeout bounds dialing and every
// read/write on the connection.
func NewRedisStore(redisURL string, timeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:   client,
		indexKey: IndexKey,
		prefix:   doodleKeyPrefix,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) keys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	return keys
}

// CreateDoodle writes the record and its index entry in one step. It returns
// ErrDuplicateID when a record with the same id already exists.
func (s *RedisStore) CreateDoodle(ctx context.Context, d Doodle) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{s.key(d.ID), s.indexKey},
		d.ID, d.Image, d.Title, formatScore(d.CreatedAt),
	).Int64()
	if err != nil {
		return upstream("create doodle", err)
	}
	if created == 0 {
		return ErrDuplicateID
	}
	return nil
}

// ListIDs returns every indexed id in insertion order.
func (s *RedisStore) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey, 0, -1).Result()
	if err != nil {
		return nil, upstream("list ids", err)
	}
	return ids, nil
}

// Count returns the number of indexed ids.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.indexKey).Result()
	if err != nil {
		return 0, upstream("count ids", err)
	}
	return n, nil
}

// GetDoodles fetches the records for ids in one round trip. Ids without a
// record are returned in missing, in input order.
func (s *RedisStore) GetDoodles(ctx context.Context, ids []string) (doodles []Doodle, missing []string, err error) {
	doodles, missing, err = s.fetch(ctx, s.client, ids)
	if err != nil {
		return nil, nil, upstream("get doodles", err)
	}
	return doodles, missing, nil
}

type pipeliner interface {
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

func (s *RedisStore) fetch(ctx context.Context, c pipeliner, ids []string) ([]Doodle, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	doodles := make([]Doodle, 0, len(ids))
	var missing []string
	for i, id := range ids {
		d, ok := decodeDoodle(id, cmds[i].Val())
		if !ok {
			missing = append(missing, id)
			continue
		}
		doodles = append(doodles, d)
	}
	return doodles, missing, nil
}

// AdjustLikes adds delta to the like counter of id, flooring at zero, and
// returns the new count.
func (s *RedisStore) AdjustLikes(ctx context.Context, id string, delta int64) (int64, error) {
	likes, err := likesScript.Run(ctx, s.client,
		[]string{s.key(id), s.indexKey},
		id, delta,
	).Int64()
	if err != nil {
		return 0, upstream("adjust likes", err)
	}
	if likes < 0 {
		return 0, ErrNotFound
	}
	return likes, nil
}

// Sweep reads the whole gallery under WATCH, asks plan which ids to remove
// and deletes their index entries and records in one MULTI/EXEC. When any
// watched key changes before EXEC nothing is removed and ErrConflict is
// returned.
func (s *RedisStore) Sweep(ctx context.Context, plan func(Snapshot) []string) ([]string, error) {
	var removed []string
	txf := func(tx *redis.Tx) error {
		removed = nil
		ids, err := tx.ZRange(ctx, s.indexKey, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := tx.Watch(ctx, s.keys(ids)...).Err(); err != nil {
				return err
			}
		}
		doodles, dangling, err := s.fetch(ctx, tx, ids)
		if err != nil {
			return err
		}

		victims := plan(Snapshot{Doodles: doodles, Dangling: dangling})
		if len(victims) == 0 {
			return nil
		}
		members := make([]any, len(victims))
		for i, id := range victims {
			members[i] = id
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.indexKey, members...)
			pipe.Del(ctx, s.keys(victims)...)
			return nil
		})
		if err != nil {
			return err
		}
		removed = victims
		return nil
	}

	err := s.client.Watch(ctx, txf, s.indexKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, upstream("sweep gallery", err)
	}
	return removed, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return upstream("ping", err)
	}
	return nil
}

func upstream(op string, err error) error {
	return apperr.Upstream(storeFailureMessage, fmt.Errorf("%s: %w", op, err))
}
