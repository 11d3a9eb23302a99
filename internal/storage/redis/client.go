// Package redis 封装流水线共用的 Redis 连接，提供带命名空间的键和持有者锁。
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailingest/backend/internal/config"
)

// KeyPrefix 是本服务写入的所有键的前缀
const KeyPrefix = "mailingest"

// releaseScript 只删除自己持有的锁
var releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Client 封装 Redis 客户端
type Client struct {
	rdb *goredis.Client
	log *zap.Logger
}

// New 连接 Redis，握手失败时返回错误
func New(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}

	log.Info("connected to Redis", zap.String("address", cfg.Address), zap.Int("db", cfg.DB))
	return &Client{rdb: rdb, log: log}, nil
}

// NewFromClient 包装已有的 go-redis 客户端
func NewFromClient(rdb *goredis.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, log: log}
}

// Key 拼接带服务前缀的键，例如 Key("cursor", "me") 得到 "mailingest:cursor:me"
func Key(parts ...string) string {
	return KeyPrefix + ":" + strings.Join(parts, ":")
}

// Redis 返回底层客户端，用于脚本和哈希操作
func (c *Client) Redis() *goredis.Client {
	return c.rdb
}

// AcquireLock 以 owner 身份获取锁，锁已被持有时返回 false
//
// 参数:
//   - key: 完整的锁键
//   - owner: 持有者标识，释放时必须一致
//   - ttl: 锁的过期时间，持有者崩溃后由过期释放
func (c *Client) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock 释放 owner 持有的锁。锁已过期或被他人持有时返回 false。
func (c *Client) ReleaseLock(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		c.log.Warn("lock was not held at release", zap.String("key", key), zap.String("owner", owner))
	}
	return n == 1, nil
}

// Ping 测试 Redis 连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	return nil
}
