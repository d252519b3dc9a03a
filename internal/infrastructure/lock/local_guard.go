package lock

import (
	"sync"
)

// LocalGuard 进程内的第一道防线：同一调用方对同一类操作的并发请求直接拒绝，
// 省掉一次 Redis 往返。只是优化，互斥以分布式锁为准。
type LocalGuard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{inflight: make(map[string]struct{})}
}

// TryEnter 成功时返回退出函数，退出函数可以重复调用
func (g *LocalGuard) TryEnter(caller, op string) (func(), bool) {
	key := op + ":" + caller

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[key]; busy {
		return nil, false
	}
	g.inflight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, true
}
