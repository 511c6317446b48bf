package favorites

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the list under cryptoFavorites:<profile>.
type RedisStore struct {
	client  redis.UniversalClient
	profile string
}

// NewRedisStore scopes the list to profile (DefaultProfile when empty).
func NewRedisStore(client redis.UniversalClient, profile string) *RedisStore {
	if profile == "" {
		profile = DefaultProfile
	}
	return &RedisStore{client: client, profile: profile}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) Key() string { return StorageKey + ":" + r.profile }

func (r *RedisStore) Load(ctx context.Context) ([]string, error) {
	data, err := r.client.Get(ctx, r.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (r *RedisStore) Save(ctx context.Context, ids []string) error {
	b, err := encode(ids)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.Key(), b, 0).Err()
}
