package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNoMark 水位线尚未写入
var ErrNoMark = errors.New("watermark not set")

// MarkStore 水位线存储：只增不减的整数标记，以及与流消息 ID 同源的时钟
type MarkStore interface {
	GetMark(ctx context.Context, key string) (int64, error)
	// AdvanceMark 原子地把标记推进到 value；已有值不小于 value 时不变。返回推进后的值
	AdvanceMark(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error)
	Now(ctx context.Context) (time.Time, error)
}

// 比较与写入在同一脚本内完成，并发的推进不会互相覆盖
var advanceMarkScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local v = tonumber(ARGV[1])
if cur and tonumber(cur) >= v then
	return tonumber(cur)
end
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return v
`)

// RedisMarkStore 基于 go-redis 的水位线存储
type RedisMarkStore struct {
	client *redis.Client
}

func NewRedisMarkStore(client *redis.Client) *RedisMarkStore {
	return &RedisMarkStore{client: client}
}

func (s *RedisMarkStore) GetMark(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoMark
	}
	return v, err
}

func (s *RedisMarkStore) AdvanceMark(ctx context.Context, key string, value int64, ttl time.Duration) (int64, error) {
	return advanceMarkScript.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
}

// Now 返回 Redis 服务端时间（TIME），与 XADD 生成的消息 ID 同一时钟
func (s *RedisMarkStore) Now(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}
