package runqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"SwapAgent-Chain/pkg/logger"
)

// MemoryQueue 使用 channel 实现进程内队列，单机部署和测试使用。
type MemoryQueue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 投递一次运行请求。
func (q *MemoryQueue) Publish(ctx context.Context, agentID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- agentID:
		return nil
	}
}

// Consume 启动指定数量的工作协程。处理失败的请求直接丢弃，重试由 Processor 负责。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case agentID, ok := <-q.ch:
					if !ok {
						return
					}
					if err := handler(ctx, agentID); err != nil {
						logger.L().Warn("运行请求处理失败", slog.Any("error", err), slog.String("agent_id", agentID))
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
