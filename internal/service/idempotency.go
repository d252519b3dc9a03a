package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	idempotencyPrefix  = "wallet:idem:"
	idempotencyPending = "__in_progress__"
)

// IdempotencyGuard 客户端幂等键：同一个 key 只执行一次，之后直接返回第一次的结果
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// Reservation Fresh 为 true 时调用方拿到了执行权；否则 Result 是上一次保存的结果
type Reservation struct {
	Fresh  bool
	Result []byte
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("%s%s:%s", idempotencyPrefix, scope, key)
}

// Reserve 占位。上一次请求仍在执行时返回 ErrBusy。
func (g *IdempotencyGuard) Reserve(ctx context.Context, scope, key string) (*Reservation, error) {
	k := idempotencyKey(scope, key)

	ok, err := g.client.SetNX(ctx, k, idempotencyPending, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("幂等键占位失败: %w", err)
	}
	if ok {
		return &Reservation{Fresh: true}, nil
	}

	val, err := g.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// 占位刚好被释放，让客户端重试
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("读取幂等键失败: %w", err)
	}
	if val == idempotencyPending {
		return nil, ErrBusy
	}
	return &Reservation{Result: []byte(val)}, nil
}

// Complete 保存执行结果，之后相同 key 的请求直接拿到它
func (g *IdempotencyGuard) Complete(ctx context.Context, scope, key string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return g.client.Set(ctx, idempotencyKey(scope, key), data, g.ttl).Err()
}

// Abandon 执行失败时删除占位，客户端可以用同一个 key 重试
func (g *IdempotencyGuard) Abandon(ctx context.Context, scope, key string) error {
	return g.client.Del(ctx, idempotencyKey(scope, key)).Err()
}
