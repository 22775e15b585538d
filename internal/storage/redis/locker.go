package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"SwapAgent-Chain/internal/agent"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

// releaseScript 只删除仍由自己持有的锁，避免过期后误删他人的锁。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX PX 实现 agent.Locker，多个 agentd 实例之间互斥。
type Locker struct {
	client *goredis.Client
	prefix string
}

// NewLocker 创建 Locker。
func NewLocker(client *goredis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire 实现 agent.Locker。锁已被占用时返回 agent.ErrAgentBusy。
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (agent.Release, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	fullKey := prefixed(l.prefix, key)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取分布式锁失败")
	}
	if !ok {
		return nil, agent.ErrAgentBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 运行可能已超时，释放使用独立的 context。
			releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil && err != goredis.Nil {
				logger.L().Warn("释放分布式锁失败", slog.Any("error", err), slog.String("key", fullKey))
			}
		})
	}, nil
}

var _ agent.Locker = (*Locker)(nil)
