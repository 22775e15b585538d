package task

import (
	"context"
	"log/slog"

	"SwapAgent-Chain/pkg/logger"
)

// FailRunning 将运行中断后遗留的记录统一标记为失败，保证历史中没有悬挂的 running 记录。
func (l *Ledger) FailRunning(ctx context.Context, agentID, message string) int {
	if l == nil || l.store == nil {
		return 0
	}
	if message == "" {
		message = "run aborted"
	}
	count, err := l.store.FailRunning(ctx, agentID, message)
	if err != nil {
		logger.L().Error("回收运行中任务失败",
			slog.Any("error", err),
			slog.String("agent_id", agentID))
		return 0
	}
	if count > 0 {
		logger.Audit().Warn("运行中任务已强制失败",
			slog.String("agent_id", agentID),
			slog.Int("count", count),
			slog.String("reason", message))
	}
	return count
}
