package runqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现运行队列，多个 agentd 实例可共享同一个队列。
type RedisQueue struct {
	client *redis.Client
	queue  string
	wait   time.Duration
	shared bool
}

// NewRedisQueue 创建 Redis 队列实例并检查连通性。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "Redis address 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "agentd:runs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// NewRedisQueueWithClient 复用已有的 Redis 客户端，Close 不会关闭该客户端。
func NewRedisQueueWithClient(client *redis.Client, queue string, wait time.Duration) *RedisQueue {
	if queue == "" {
		queue = "agentd:runs"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, shared: true}
}

// Publish 将运行请求写入队列头部。
func (q *RedisQueue) Publish(ctx context.Context, agentID string) error {
	if err := q.client.LPush(ctx, q.queue, agentID).Err(); err != nil {
		return fmt.Errorf("Redis 投递运行请求失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 获取运行请求，处理失败时放回队列尾部。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				default:
				}
				values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					if err == redis.Nil {
						continue
					}
					errCh <- fmt.Errorf("Redis 读取运行请求失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				agentID := values[1]
				if handlerErr := handler(ctx, agentID); handlerErr != nil {
					if err := q.client.RPush(ctx, q.queue, agentID).Err(); err != nil {
						logger.L().Error("运行请求重新入队失败", slog.Any("error", err), slog.String("agent_id", agentID))
					}
				}
			}
		}()
	}
	// 等待第一个错误或取消信号。
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || q.shared {
		return nil
	}
	return q.client.Close()
}
