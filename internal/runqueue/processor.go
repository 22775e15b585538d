package runqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"SwapAgent-Chain/internal/agent"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/observability/alerting"
	"SwapAgent-Chain/pkg/logger"
)

const (
	// CodeRunRequeue 表示忙碌的运行请求无法重新入队。
	CodeRunRequeue xerrors.Code = "RUN_REQUEUE_FAILED"
	// CodeRunDropped 表示运行请求在多次重排后仍然忙碌并被放弃。
	CodeRunDropped xerrors.Code = "RUN_DROPPED"
)

func init() {
	xerrors.Register(CodeRunRequeue, xerrors.Attributes{Message: "failed to requeue agent run", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeRunDropped, xerrors.Attributes{Message: "agent run dropped after repeated busy attempts", Severity: xerrors.SeverityWarning, Alert: true})
}

// Runner 定义了处理器所需的编排能力。
type Runner interface {
	Execute(ctx context.Context, agentID string) agent.RunResult
}

// Processor 从队列消费运行请求并交给编排器执行。
type Processor struct {
	runner       Runner
	consumer     Consumer
	producer     Producer
	workerCount  int
	maxRequeue   int
	requeueDelay time.Duration
	logger       *slog.Logger
	alerter      alerting.Dispatcher

	mu       sync.Mutex
	requeued map[string]int
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRequeue 配置智能体忙碌时的重排次数与间隔。
func WithRequeue(maxAttempts int, delay time.Duration) ProcessorOption {
	return func(p *Processor) {
		if maxAttempts >= 0 {
			p.maxRequeue = maxAttempts
		}
		if delay >= 0 {
			p.requeueDelay = delay
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:       runner,
		consumer:     consumer,
		producer:     producer,
		workerCount:  1,
		maxRequeue:   3,
		requeueDelay: 2 * time.Second,
		logger:       logger.Named("runqueue"),
		requeued:     make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动消费循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行队列消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, agentID string) error {
	if p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}

	result := p.runner.Execute(ctx, agentID)
	if result.Success {
		p.resetRequeue(agentID)
		logger.Audit().Info("运行请求执行成功",
			slog.String("agent_id", agentID),
			slog.Int("tasks", len(result.TaskIDs)))
		return nil
	}

	if result.Code == agent.CodeAgentBusy {
		return p.requeue(ctx, agentID)
	}

	p.resetRequeue(agentID)
	logger.Audit().Warn("运行请求执行失败",
		slog.String("agent_id", agentID),
		slog.String("stage", string(result.Stage)),
		slog.String("error", result.Error),
		slog.String("error_code", string(result.Code)))
	return nil
}

// requeue 在智能体忙碌时延迟后重新投递，超过次数上限则放弃并告警。
func (p *Processor) requeue(ctx context.Context, agentID string) error {
	p.mu.Lock()
	attempts := p.requeued[agentID] + 1
	if attempts > p.maxRequeue {
		delete(p.requeued, agentID)
		p.mu.Unlock()
		err := xerrors.New(CodeRunDropped, "智能体持续忙碌，放弃本次运行请求")
		logger.Audit().Warn("运行请求被放弃", slog.String("agent_id", agentID), slog.Int("attempts", attempts-1))
		p.emitAlert(ctx, agentID, err)
		return nil
	}
	p.requeued[agentID] = attempts
	p.mu.Unlock()

	if p.requeueDelay > 0 {
		timer := time.NewTimer(p.requeueDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if p.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置运行队列生产者")
	}
	if err := p.producer.Publish(ctx, agentID); err != nil {
		wrapped := xerrors.Wrap(CodeRunRequeue, err, "忙碌的运行请求重新入队失败")
		p.emitAlert(ctx, agentID, wrapped)
		return wrapped
	}
	p.logger.Debug("智能体忙碌，运行请求已重新排队", slog.String("agent_id", agentID), slog.Int("attempts", attempts))
	return nil
}

func (p *Processor) resetRequeue(agentID string) {
	p.mu.Lock()
	delete(p.requeued, agentID)
	p.mu.Unlock()
}

func (p *Processor) emitAlert(ctx context.Context, agentID string, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(agentID, "queue", cause, nil)
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}
}
