package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/pkg/logger"
)

// Ledger 负责任务历史的创建、迁移与查询。
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
}

// LedgerOption 定义可选配置。
type LedgerOption func(*Ledger)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDGenerator 替换记录 ID 生成方式。
func WithIDGenerator(fn func() string) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// NewLedger 构造任务历史服务。
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// CreateTask 写入一条 pending 记录，StartedAt 取当前时间。
func (l *Ledger) CreateTask(ctx context.Context, agentID string, typ Type, description string, input map[string]any) (*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, xerrors.New(CodeTaskValidation, "agent id 不能为空")
	}
	if strings.TrimSpace(string(typ)) == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务类型不能为空")
	}
	now := l.now().UTC()
	record := &Record{
		ID:          l.newID(),
		AgentID:     agentID,
		Type:        typ,
		Description: description,
		Input:       cloneMap(input),
		Status:      StatusPending,
		StartedAt:   now,
		CreatedAt:   now,
	}
	if err := l.store.Insert(ctx, record); err != nil {
		return nil, err
	}
	return cloneRecord(record), nil
}

// Begin 创建记录并立即迁移到 running。
func (l *Ledger) Begin(ctx context.Context, agentID string, typ Type, description string, input map[string]any) (*Record, error) {
	record, err := l.CreateTask(ctx, agentID, typ, description, input)
	if err != nil {
		return nil, err
	}
	return l.UpdateTask(ctx, record.ID, Update{Status: StatusRunning})
}

// UpdateTask 执行一次状态迁移。迁移到终态时写入 CompletedAt，终态记录不能再次更新。
func (l *Ledger) UpdateTask(ctx context.Context, id string, upd Update) (*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	if !IsValidStatus(upd.Status) {
		return nil, xerrors.New(CodeTaskValidation, "无效的任务状态: "+string(upd.Status))
	}
	if upd.Status.IsTerminal() && upd.CompletedAt == nil {
		ts := l.now().UTC()
		upd.CompletedAt = &ts
	}
	if !upd.Status.IsTerminal() {
		upd.CompletedAt = nil
	}
	return l.store.Transition(ctx, id, upd)
}

// Complete 将记录标记为完成。
func (l *Ledger) Complete(ctx context.Context, id string, output map[string]any) (*Record, error) {
	return l.UpdateTask(ctx, id, Update{Status: StatusCompleted, Output: output})
}

// Fail 将记录标记为失败。
func (l *Ledger) Fail(ctx context.Context, id string, cause error) (*Record, error) {
	message := xerrors.MessageOf(cause)
	if message == "" {
		message = "unknown error"
	}
	return l.UpdateTask(ctx, id, Update{Status: StatusFailed, ErrorMessage: message})
}

// Record 写入一条已经结束的记录，常用于 setup 这类一次性步骤。
func (l *Ledger) Record(ctx context.Context, agentID string, typ Type, description string, input, output map[string]any, cause error) (*Record, error) {
	record, err := l.CreateTask(ctx, agentID, typ, description, input)
	if err != nil {
		return nil, err
	}
	if cause != nil {
		return l.Fail(ctx, record.ID, cause)
	}
	return l.Complete(ctx, record.ID, output)
}

// Get 返回单条记录。
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	return l.store.Get(ctx, id)
}

// ListTasks 返回智能体最近的记录，默认按创建时间倒序。
func (l *Ledger) ListTasks(ctx context.Context, agentID string, opts ...ListOption) ([]*Record, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	return l.store.List(ctx, agentID, buildListOptions(opts))
}

// ClearTasks 删除智能体的全部历史。
func (l *Ledger) ClearTasks(ctx context.Context, agentID string) error {
	if l == nil || l.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	if err := l.store.Clear(ctx, agentID); err != nil {
		return err
	}
	logger.Audit().Info("任务历史已清空", slog.String("agent_id", agentID))
	return nil
}

// Stats 返回智能体的任务统计。
func (l *Ledger) Stats(ctx context.Context, agentID string) (Stats, error) {
	if l == nil || l.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务历史未初始化")
	}
	return l.store.Stats(ctx, agentID)
}

// Close 释放底层存储。
func (l *Ledger) Close() error {
	if l == nil || l.store == nil {
		return nil
	}
	return l.store.Close()
}
