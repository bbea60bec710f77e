package wsbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DiscordCache is a row of the durable page store table
type DiscordCache struct {
	Key   string `gorm:"primaryKey;column:key;type:string" json:"key"`
	Value string `gorm:"column:value;type:text;not null" json:"value"`
	ModelUnixTime
}

func (DiscordCache) TableName() string {
	return "ws_discord_cache"
}

// gormPageStore is a PageStore backed by the ws_discord_cache table
type gormPageStore struct {
	db *database
}

func newGormPageStore(db *database) *gormPageStore {
	return &gormPageStore{db: db}
}

func (*gormPageStore) Name() string {
	return cacheBackendDatabase
}

func (s *gormPageStore) Upsert(ctx context.Context, key string, value string) error {
	_, err := s.db.Upsert(
		ctx,
		&DiscordCache{Key: key, Value: value},
		[]string{"key"},
		[]string{"value", "updated_at"},
	)
	return err
}

func (s *gormPageStore) SelectByKey(ctx context.Context, key string) (string, bool, error) {
	var row DiscordCache
	rv := s.db.DB().WithContext(ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&row)
	if rv.Error != nil {
		return "", false, rv.Error
	}
	if rv.RowsAffected == 0 {
		return "", false, nil
	}
	return row.Value, true, nil
}

// redisPageStore is a PageStore backed by redis string keys, each
// expiring after ttl
type redisPageStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func newRedisPageStoreFromURL(url string, prefix string, ttl time.Duration) (*redisPageStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return newRedisPageStore(opts, prefix, ttl), nil
}

func newRedisPageStore(opts *redis.Options, prefix string, ttl time.Duration) *redisPageStore {
	return &redisPageStore{
		client: redis.NewClient(opts),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (*redisPageStore) Name() string {
	return cacheBackendRedis
}

func (s *redisPageStore) Upsert(ctx context.Context, key string, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

func (s *redisPageStore) SelectByKey(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return value, true, nil
}

func (s *redisPageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisPageStore) Close() error {
	return s.client.Close()
}
