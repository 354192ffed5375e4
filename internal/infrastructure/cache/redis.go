package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions holds what the binaries need to reach Redis
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient creates a client and checks connectivity
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	poolSize := opts.PoolSize
	if poolSize == 0 {
		poolSize = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:            opts.Addr,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        poolSize,
		MinIdleConns:    poolSize / 4,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnMaxLifetime: time.Hour,
		ReadTimeout:     opts.ReadTimeout,
		WriteTimeout:    opts.WriteTimeout,
		DialTimeout:     5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
