package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"SwapAgent-Chain/pkg/logger"
)

// StatusMessage 是发布到状态频道的一条进度消息。
type StatusMessage struct {
	AgentID string    `json:"agent_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StatusPublisher 通过 Redis Pub/Sub 广播运行进度，实现 agent.StatusSink。
type StatusPublisher struct {
	client *goredis.Client
	prefix string
}

// NewStatusPublisher 创建 StatusPublisher。
func NewStatusPublisher(client *goredis.Client, prefix string) *StatusPublisher {
	return &StatusPublisher{client: client, prefix: prefix}
}

// Channel 返回指定智能体的状态频道名。
func (p *StatusPublisher) Channel(agentID string) string {
	return prefixed(p.prefix, "agent:"+agentID+":status")
}

// Publish 发布进度消息。发布失败只记录日志，不影响运行。
func (p *StatusPublisher) Publish(ctx context.Context, agentID, message string) {
	payload, err := json.Marshal(StatusMessage{AgentID: agentID, Message: message, At: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := p.client.Publish(ctx, p.Channel(agentID), payload).Err(); err != nil {
		logger.L().Debug("发布运行进度失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}
}
