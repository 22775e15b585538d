package runqueue

import (
	"context"
	"log/slog"
	"strings"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

// Service 负责接收运行请求并投递到队列。
type Service struct {
	producer Producer
}

// NewService 创建 Service。
func NewService(producer Producer) *Service {
	return &Service{producer: producer}
}

// Submit 投递一次运行请求，执行结果通过任务历史查询。
func (s *Service) Submit(ctx context.Context, agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id 不能为空")
	}
	if s == nil || s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行队列")
	}
	if err := s.producer.Publish(ctx, agentID); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递运行请求失败")
	}
	logger.Audit().Info("运行请求已入队", slog.String("agent_id", agentID))
	return nil
}
