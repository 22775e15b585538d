package runqueue

import (
	"context"
)

// Handler 处理来自消息队列的智能体 ID。返回错误时由具体队列决定是否重新投递。
type Handler func(ctx context.Context, agentID string) error

// Producer 负责投递运行请求。
type Producer interface {
	Publish(ctx context.Context, agentID string) error
	Close() error
}

// Consumer 负责消费运行请求。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
