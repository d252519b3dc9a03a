package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// 基于 Redis 的分布式锁
// ============================================================================
//
// 加锁：SET key token NX PX ttl，多实例共享同一个 Redis，互斥对所有实例可见。
// 释放：Lua 脚本比较 token 后再 DEL，锁过期被别人拿到后不会误删。
//
// 获取失败立即返回 ErrBusy，不排队等待，由调用方决定重试还是提示用户。
// ============================================================================

var ErrBusy = errors.New("资源正被其他请求处理，请稍后重试")

// 锁的操作类别，key 由 类别 + 资源ID 组成
const (
	OpBalance     = "balance"      // 所有余额变动共用，保证同一账户的变动全序
	OpOrder       = "order"        // 订单状态流转
	OpPaymentInit = "payment-init" // 发起充值
)

const keyPrefix = "wallet:lock:"

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// Manager 分布式锁管理器
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{client: client, ttl: ttl}
}

// Handle 一把已获取的锁
type Handle struct {
	client *redis.Client
	key    string
	token  string
}

func Key(op, resourceID string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, op, resourceID)
}

// Acquire 非阻塞地获取 (op, resourceID) 上的锁
func (m *Manager) Acquire(ctx context.Context, op, resourceID string) (*Handle, error) {
	h := &Handle{
		client: m.client,
		key:    Key(op, resourceID),
		token:  uuid.NewString(),
	}

	ok, err := m.client.SetNX(ctx, h.key, h.token, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("获取分布式锁失败: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return h, nil
}

// AcquireAll 按资源ID字典序依次加锁，多个请求交叉加锁时不会死锁。
// 任意一把失败则释放已拿到的锁并返回错误。
func (m *Manager) AcquireAll(ctx context.Context, op string, resourceIDs ...string) (Handles, error) {
	ids := make([]string, 0, len(resourceIDs))
	seen := make(map[string]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	handles := make(Handles, 0, len(ids))
	for _, id := range ids {
		h, err := m.Acquire(ctx, op, id)
		if err != nil {
			handles.Release(context.Background())
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Release 释放锁，重复释放或锁已过期时什么也不做
func (h *Handle) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}
	return unlockScript.Run(ctx, h.client, []string{h.key}, h.token).Err()
}

func (h *Handle) Key() string {
	return h.key
}

type Handles []*Handle

// Release 逆序释放，返回遇到的第一个错误
func (hs Handles) Release(ctx context.Context) error {
	var first error
	for i := len(hs) - 1; i >= 0; i-- {
		if err := hs[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
