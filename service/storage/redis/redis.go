package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 进程级 Redis 客户端。网关只把它用于在线会话索引，所以一个库一个池够用。

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

var (
	initOnce sync.Once
	client   *redis.Client
)

// Init 初始化进程级客户端（幂等），启动时调用一次并检查 error。
func Init(c Config) error {
	var initErr error
	initOnce.Do(func() {
		if c.PoolSize <= 0 {
			c.PoolSize = 32
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			initErr = err
			return
		}
		client = rdb
	})
	return initErr
}

// Get 获取客户端。未初始化直接 panic，这是接线错误不是运行时错误。
func Get() *redis.Client {
	if client == nil {
		panic("redis not initialized, call redis.Init first")
	}
	return client
}

// Close 进程退出时调用。
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}
