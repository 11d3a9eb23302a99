package cursor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/storage/redis"
)

// advanceScript 在服务端比较并写入，保证并发提交下位置不回退
var advanceScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'position') or '0')
if tonumber(ARGV[1]) > cur then
	redis.call('HSET', KEYS[1], 'position', ARGV[1], 'committed_at', ARGV[2])
	return 1
end
return 0
`)

// RedisStore 把检查点保存在 Redis 哈希中，并提供基于 SET NX 的运行锁
type RedisStore struct {
	client  *redis.Client
	key     string
	lockKey string
}

// NewRedisStore 创建 Redis 检查点存储
//
// 参数:
//   - client: 已连接的 Redis 客户端
//   - name: 检查点名称，通常是邮箱地址
func NewRedisStore(client *redis.Client, name string) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     redis.Key("cursor", name),
		lockKey: redis.Key("lock", name),
	}
}

// Load 读取当前检查点
func (s *RedisStore) Load(ctx context.Context) (domain.Cursor, error) {
	vals, err := s.client.Redis().HGetAll(ctx, s.key).Result()
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("redis load cursor: %w", err)
	}
	if len(vals) == 0 {
		return domain.Cursor{}, nil
	}
	pos, err := strconv.ParseUint(vals["position"], 10, 64)
	if err != nil {
		return domain.Cursor{}, fmt.Errorf("redis cursor position %q: %w", vals["position"], err)
	}
	c := domain.Cursor{Position: pos}
	if ts := vals["committed_at"]; ts != "" {
		if c.CommittedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return domain.Cursor{}, fmt.Errorf("redis cursor timestamp %q: %w", ts, err)
		}
	}
	return c, nil
}

// Advance 单调推进检查点
func (s *RedisStore) Advance(ctx context.Context, position uint64, at time.Time) (bool, error) {
	n, err := advanceScript.Run(ctx, s.client.Redis(), []string{s.key},
		strconv.FormatUint(position, 10), at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, fmt.Errorf("redis advance cursor: %w", err)
	}
	return n == 1, nil
}

// Lock 获取运行锁
func (s *RedisStore) Lock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	return s.client.AcquireLock(ctx, s.lockKey, owner, ttl)
}

// Unlock 释放运行锁，锁已过期时不报错
func (s *RedisStore) Unlock(ctx context.Context, owner string) error {
	_, err := s.client.ReleaseLock(ctx, s.lockKey, owner)
	return err
}

// Close 关闭 Redis 连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
