package agent

import (
	"context"
	"sync"
	"time"
)

// Release 释放一次加锁。重复调用是安全的。
type Release func()

// Locker 为单个智能体提供互斥，防止两次运行同时读取余额并提交冲突的 nonce。
// Acquire 不阻塞，已被占用时返回 ErrAgentBusy。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// MemoryLocker 是进程内的 Locker 实现。
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]uint64
	token uint64
}

// NewMemoryLocker 创建 MemoryLocker。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]uint64)}
}

// Acquire 实现 Locker 接口。进程内锁不会过期，ttl 被忽略。
func (l *MemoryLocker) Acquire(_ context.Context, key string, _ time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrAgentBusy
	}
	l.token++
	token := l.token
	l.held[key] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == token {
				delete(l.held, key)
			}
		})
	}, nil
}

func lockKey(agentID string) string {
	return "agent:run:" + agentID
}
