package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"SwapAgent-Chain/internal/catalog"
	"SwapAgent-Chain/internal/dex"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/observability/alerting"
	"SwapAgent-Chain/internal/observability/metrics"
	"SwapAgent-Chain/internal/planner"
	"SwapAgent-Chain/internal/predictor"
	"SwapAgent-Chain/internal/task"
	"SwapAgent-Chain/pkg/logger"
)

// DefaultRunBudget 是单次运行的默认时间预算，需容纳两次模型调用与两次终局轮询。
const DefaultRunBudget = 180 * time.Second

// Stage 是运行状态机中的阶段。
type Stage string

const (
	StagePlanning       Stage = "planning"
	StageFetchingTokens Stage = "fetching_tokens"
	StagePredicting     Stage = "predicting"
	StageSwapping       Stage = "swapping"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// Planner 生成建议性的任务计划。
type Planner interface {
	Plan(ctx context.Context, goal, balance string) planner.Plan
}

// TokenSource 提供带流动性的代币目录。
type TokenSource interface {
	Fetch(ctx context.Context) ([]catalog.Token, catalog.Source)
}

// TokenPredictor 从目录中选择目标代币。
type TokenPredictor interface {
	PredictToken(ctx context.Context, tokens []catalog.Token, goal string) (*predictor.Prediction, error)
}

// Swapper 执行链上兑换。
type Swapper interface {
	ExecuteSwap(ctx context.Context, accountID, rawPrivateKey, tokenOut, nearAmount string) dex.SwapResult
}

// StatusSink 接收面向用户的进度消息，例如转发到聊天会话。
type StatusSink interface {
	Publish(ctx context.Context, agentID, message string)
}

// StatusSinkFunc 让普通函数满足 StatusSink。
type StatusSinkFunc func(ctx context.Context, agentID, message string)

// Publish 实现 StatusSink。
func (f StatusSinkFunc) Publish(ctx context.Context, agentID, message string) {
	f(ctx, agentID, message)
}

// RunResult 是一次运行的汇总结果。失败时 TaskIDs 仍包含已创建的记录，便于审计。
type RunResult struct {
	Success bool            `json:"success"`
	TaskIDs []string        `json:"task_ids"`
	Error   string          `json:"error,omitempty"`
	Code    xerrors.Code    `json:"code,omitempty"`
	Stage   Stage           `json:"stage"`
	Swap    *dex.SwapResult `json:"swap,omitempty"`
}

// Orchestrator 串联规划、代币发现、预测与兑换，并在每个阶段写入任务历史。
type Orchestrator struct {
	agents     *Service
	ledger     *task.Ledger
	balances   BalanceReader
	planner    Planner
	tokens     TokenSource
	predictor  TokenPredictor
	swapper    Swapper
	locker     Locker
	sink       StatusSink
	metrics    *metrics.Collector
	alerter    alerting.Dispatcher
	budget     time.Duration
	llmTimeout time.Duration
	logger     *slog.Logger
}

// OrchestratorOption 定义可选配置。
type OrchestratorOption func(*Orchestrator)

// WithLocker 替换默认的进程内锁，例如使用 Redis 实现跨进程互斥。
func WithLocker(locker Locker) OrchestratorOption {
	return func(o *Orchestrator) {
		if locker != nil {
			o.locker = locker
		}
	}
}

// WithStatusSink 配置进度消息接收方。
func WithStatusSink(sink StatusSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithMetrics 配置指标采集。
func WithMetrics(collector *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = collector
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.alerter = dispatcher
	}
}

// WithRunBudget 设置单次运行的时间预算。
func WithRunBudget(budget time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if budget > 0 {
			o.budget = budget
		}
	}
}

// WithLLMTimeout 限制单次模型调用的耗时，超时后规划与预测走各自的兜底逻辑。
func WithLLMTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout < 0 {
			timeout = 0
		}
		o.llmTimeout = timeout
	}
}

// NewOrchestrator 构造 Orchestrator。
func NewOrchestrator(agents *Service, ledger *task.Ledger, balances BalanceReader, planner Planner, tokens TokenSource, predictor TokenPredictor, swapper Swapper, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		agents:    agents,
		ledger:    ledger,
		balances:  balances,
		planner:   planner,
		tokens:    tokens,
		predictor: predictor,
		swapper:   swapper,
		locker:    NewMemoryLocker(),
		budget:    DefaultRunBudget,
		logger:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// run 保存单次运行的状态。rawKey 只存在于本结构体中，运行结束即丢弃。
type run struct {
	agent   *Agent
	rawKey  string
	balance string
	stage   Stage
	taskIDs []string
	swap    *dex.SwapResult
	// reported 表示兑换失败已在 swapStage 中计量与告警。
	reported bool
}

// Execute 执行一次完整运行。它从不返回 error，也不会让 panic 逃逸，
// 所有失败都体现在 RunResult 中。调用方取消 ctx 不会中断运行，只有时间预算会。
func (o *Orchestrator) Execute(ctx context.Context, agentID string) (result RunResult) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	o.metrics.RunStarted()
	defer o.metrics.RunFinished()

	// 同一智能体串行执行。
	release, err := o.locker.Acquire(ctx, lockKey(agentID), o.budget+10*time.Second)
	if err != nil {
		return RunResult{TaskIDs: []string{}, Error: xerrors.MessageOf(err), Code: xerrors.CodeOf(err), Stage: StageFailed}
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	r := &run{taskIDs: []string{}}
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("运行发生 panic", slog.Any("panic", rec), slog.String("agent_id", agentID))
			result = o.fail(ctx, agentID, r, xerrors.New(CodeRunPanic, fmt.Sprintf("unexpected failure: %v", rec)))
		}
		r.rawKey = ""
		o.metrics.ObserveRun(result.Success)
		logger.Audit().Info("智能体运行结束",
			slog.String("agent_id", agentID),
			slog.Bool("success", result.Success),
			slog.String("stage", string(result.Stage)),
			slog.Int("tasks", len(result.TaskIDs)),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", result.Error))
	}()

	logger.Audit().Info("智能体运行开始", slog.String("agent_id", agentID))
	if err := o.execute(runCtx, agentID, r); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = xerrors.Wrap(CodeRunTimeout, err, fmt.Sprintf("run exceeded %s budget", o.budget))
		}
		return o.fail(ctx, agentID, r, err)
	}
	r.stage = StageDone
	o.notify(ctx, agentID, "Run finished successfully.")
	return RunResult{Success: true, TaskIDs: r.taskIDs, Stage: StageDone, Swap: r.swap}
}

func (o *Orchestrator) execute(ctx context.Context, agentID string, r *run) error {
	// 读取智能体与私钥。
	agent, rawKey, err := o.agents.loadForRun(ctx, agentID)
	if err != nil {
		return err
	}
	r.agent = agent
	r.rawKey = rawKey

	// 读取余额，仅作为规划上下文和金额上限。
	r.balance = "0"
	if o.balances != nil {
		balance, err := o.balances.GetBalance(ctx, agent.AccountID)
		if err != nil {
			o.logger.Warn("读取余额失败，按 0 处理", slog.Any("error", err), slog.String("agent_id", agentID))
		} else {
			r.balance = balance
			o.agents.cacheBalance(ctx, agentID, balance)
		}
	}

	if err := o.planStage(ctx, r); err != nil {
		return err
	}
	tokens, err := o.fetchStage(ctx, r)
	if err != nil {
		return err
	}
	prediction, err := o.predictStage(ctx, r, tokens)
	if err != nil {
		return err
	}
	return o.swapStage(ctx, r, prediction)
}

func (o *Orchestrator) planStage(ctx context.Context, r *run) error {
	r.stage = StagePlanning
	o.notify(ctx, r.agent.ID, "Planning tasks for goal.")
	return o.stage(ctx, r, task.TypePlanTasks, "Plan tasks for the agent goal",
		map[string]any{"goal": r.agent.Goal, "balance": r.balance},
		func(ctx context.Context) (map[string]any, error) {
			llmCtx, cancel := o.llmContext(ctx)
			defer cancel()
			plan := o.planner.Plan(llmCtx, r.agent.Goal, r.balance)
			return map[string]any{"tasks": plan.Tasks, "source": string(plan.Source), "reason": plan.Reason}, nil
		})
}

func (o *Orchestrator) fetchStage(ctx context.Context, r *run) ([]catalog.Token, error) {
	r.stage = StageFetchingTokens
	o.notify(ctx, r.agent.ID, "Fetching tradable tokens.")
	var tokens []catalog.Token
	err := o.stage(ctx, r, task.TypeFetchTokens, "Fetch tokens with liquidity", nil,
		func(ctx context.Context) (map[string]any, error) {
			var source catalog.Source
			tokens, source = o.tokens.Fetch(ctx)
			if len(tokens) == 0 {
				return nil, xerrors.New(predictor.CodeEmptyCatalog, "no tradable tokens available")
			}
			sample := make([]string, 0, 5)
			for i := 0; i < len(tokens) && i < 5; i++ {
				sample = append(sample, tokens[i].Symbol)
			}
			return map[string]any{"count": len(tokens), "source": string(source), "sample": sample}, nil
		})
	return tokens, err
}

func (o *Orchestrator) predictStage(ctx context.Context, r *run, tokens []catalog.Token) (*predictor.Prediction, error) {
	r.stage = StagePredicting
	o.notify(ctx, r.agent.ID, "Selecting a token to buy.")
	var prediction *predictor.Prediction
	err := o.stage(ctx, r, task.TypePredictToken, "Predict the best token for the goal",
		map[string]any{"goal": r.agent.Goal, "token_count": len(tokens)},
		func(ctx context.Context) (map[string]any, error) {
			llmCtx, cancel := o.llmContext(ctx)
			defer cancel()
			var err error
			prediction, err = o.predictor.PredictToken(llmCtx, tokens, r.agent.Goal)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"selected_token": prediction.SelectedToken,
				"symbol":         prediction.Symbol,
				"price":          prediction.Price,
				"confidence":     prediction.Confidence,
				"reasoning":      prediction.Reasoning,
				"source":         string(prediction.Source),
			}, nil
		})
	return prediction, err
}

func (o *Orchestrator) swapStage(ctx context.Context, r *run, prediction *predictor.Prediction) error {
	r.stage = StageSwapping
	amount := ExtractSwapAmount(r.agent.Goal, r.balance)
	o.notify(ctx, r.agent.ID, fmt.Sprintf("Swapping %s NEAR for %s.", amount, prediction.Symbol))

	began := time.Now()
	record, err := o.ledger.Begin(ctx, r.agent.ID, task.TypeExecuteSwap,
		fmt.Sprintf("Swap %s NEAR for %s", amount, prediction.Symbol),
		map[string]any{"account_id": r.agent.AccountID, "token_out": prediction.SelectedToken, "amount": amount})
	if err != nil {
		return err
	}
	r.taskIDs = append(r.taskIDs, record.ID)

	res := o.swapper.ExecuteSwap(ctx, r.agent.AccountID, r.rawKey, prediction.SelectedToken, amount)
	r.swap = &res
	output := map[string]any{"submitted": res.Submitted}
	if res.Estimate != nil {
		output["pool_id"] = res.Estimate.PoolID
		output["expected_out"] = res.Estimate.ExpectedOut
		output["minimum_out"] = res.Estimate.MinimumOut
	}

	if !res.Success {
		cause := res.Err
		if cause == nil {
			cause = xerrors.New(CodeSwapFailed, res.Error)
		}
		if _, err := o.ledger.UpdateTask(ctx, record.ID, task.Update{Status: task.StatusFailed, Output: output, ErrorMessage: xerrors.MessageOf(cause)}); err != nil {
			o.logger.Warn("写入兑换失败状态出错", slog.Any("error", err), slog.String("task_id", record.ID))
		}
		o.metrics.ObserveStage(string(StageSwapping), cause, time.Since(began))
		if len(res.Submitted) > 0 {
			o.metrics.ObserveSwap(metrics.SwapPartial)
			o.alert(ctx, r, string(StageSwapping), cause, map[string]string{"submitted": strings.Join(res.Submitted, ",")})
		} else {
			o.metrics.ObserveSwap(metrics.SwapFailed)
		}
		r.reported = true
		return cause
	}

	output["transaction_hash"] = res.TransactionHash
	output["amount_in"] = res.AmountIn
	if _, err := o.ledger.Complete(ctx, record.ID, output); err != nil {
		return err
	}
	o.metrics.ObserveStage(string(StageSwapping), nil, time.Since(began))
	o.metrics.ObserveSwap(metrics.SwapSuccess)
	logger.Audit().Info("兑换完成",
		slog.String("agent_id", r.agent.ID),
		slog.String("tx_hash", res.TransactionHash),
		slog.String("token_out", prediction.SelectedToken),
		slog.String("amount", amount))
	return nil
}

// stage 用 Begin 与一次终态更新包裹阶段工作。
func (o *Orchestrator) stage(ctx context.Context, r *run, typ task.Type, description string, input map[string]any, work func(context.Context) (map[string]any, error)) error {
	began := time.Now()
	record, err := o.ledger.Begin(ctx, r.agent.ID, typ, description, input)
	if err != nil {
		return err
	}
	r.taskIDs = append(r.taskIDs, record.ID)

	output, workErr := work(ctx)
	o.metrics.ObserveStage(string(r.stage), workErr, time.Since(began))
	if workErr != nil {
		if _, err := o.ledger.Fail(ctx, record.ID, workErr); err != nil {
			o.logger.Warn("写入失败状态出错", slog.Any("error", err), slog.String("task_id", record.ID))
		}
		return workErr
	}
	_, err = o.ledger.Complete(ctx, record.ID, output)
	return err
}

// fail 收尾失败的运行：强制结束仍在运行的记录并汇总结果。
func (o *Orchestrator) fail(ctx context.Context, agentID string, r *run, cause error) RunResult {
	message := xerrors.MessageOf(cause)
	if len(r.taskIDs) > 0 {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		o.ledger.FailRunning(cleanupCtx, agentID, message)
		cancel()
	}
	failedAt := r.stage
	if failedAt == "" {
		failedAt = StageFailed
	}
	o.logger.Warn("智能体运行失败",
		slog.String("agent_id", agentID),
		slog.String("stage", string(failedAt)),
		slog.String("error", message))
	if xerrors.ShouldAlert(cause) && !r.reported {
		o.alert(ctx, r, string(failedAt), cause, nil)
	}
	o.notify(ctx, agentID, "Run failed: "+message)
	return RunResult{
		TaskIDs: r.taskIDs,
		Error:   message,
		Code:    xerrors.CodeOf(cause),
		Stage:   failedAt,
		Swap:    r.swap,
	}
}

func (o *Orchestrator) llmContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.llmTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.llmTimeout)
}

func (o *Orchestrator) notify(ctx context.Context, agentID, message string) {
	if o.sink != nil {
		o.sink.Publish(ctx, agentID, message)
	}
}

func (o *Orchestrator) alert(ctx context.Context, r *run, stage string, cause error, metadata map[string]string) {
	if o.alerter == nil || r.agent == nil {
		return
	}
	event := alerting.FromError(r.agent.ID, stage, cause, metadata)
	event.AccountID = r.agent.AccountID
	if err := o.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		o.logger.Error("告警通知失败", slog.Any("error", err), slog.String("agent_id", r.agent.ID))
	}
}
