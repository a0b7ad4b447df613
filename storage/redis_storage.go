package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronoswap/chronoswap/common"
)

// RedisConfig holds the configuration parameters for connecting to a Redis
// instance.
type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     string `mapstructure:"port" json:"port,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db,omitempty"`
}

// RedisStorage carries the state shared between the API server and the
// worker outside of postgres: the global pause flag and short-lived read
// caches.
type RedisStorage struct {
	cfg    RedisConfig
	client *redis.Client
}

func NewRedisStorage(cfg RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	status := client.Ping(context.Background())
	if status.Err() != nil {
		return nil, status.Err()
	}
	return &RedisStorage{
		cfg:    cfg,
		client: client,
	}, nil
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *RedisStorage) Set(ctx context.Context, key string, value string, expiry time.Duration) error {
	return r.client.Set(ctx, key, value, expiry).Err()
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// SetPaused flips the global pause flag checked at the top of every
// trigger-fired execution.
func (r *RedisStorage) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		return r.client.Del(ctx, common.PauseAllKey).Err()
	}
	return r.client.Set(ctx, common.PauseAllKey, "1", 0).Err()
}

func (r *RedisStorage) Paused(ctx context.Context) (bool, error) {
	_, err := r.client.Get(ctx, common.PauseAllKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
