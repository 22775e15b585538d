package task

import (
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
)

// Status 表示任务记录在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Type 描述任务记录对应的流水线步骤。
type Type string

const (
	TypeSetup        Type = "setup"
	TypePlanTasks    Type = "plan_tasks"
	TypeFetchTokens  Type = "fetch_tokens"
	TypePredictToken Type = "predict_token"
	TypeExecuteSwap  Type = "execute_swap"
)

// Record 是智能体任务历史中的一条记录。
type Record struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Type         Type           `json:"task_type"`
	Description  string         `json:"description"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Status       Status         `json:"status"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Update 描述一次状态迁移。零值字段不会覆盖已有内容。
type Update struct {
	Status       Status
	Output       map[string]any
	ErrorMessage string
	CompletedAt  *time.Time
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
)

var (
	// ErrTaskNotFound 表示指定的任务记录不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示记录已处于终态，不能再次更新。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task already finished")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task already finished",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRecord(r *Record) *Record {
	clone := *r
	clone.Input = cloneMap(r.Input)
	clone.Output = cloneMap(r.Output)
	if r.CompletedAt != nil {
		ts := *r.CompletedAt
		clone.CompletedAt = &ts
	}
	return &clone
}

// apply 在记录上执行一次迁移，终态记录返回 ErrTaskConflict。
func apply(r *Record, upd Update, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTaskConflict
	}
	r.Status = upd.Status
	if upd.Output != nil {
		r.Output = cloneMap(upd.Output)
	}
	if upd.ErrorMessage != "" {
		r.ErrorMessage = upd.ErrorMessage
	}
	if upd.Status.IsTerminal() {
		completed := now
		if upd.CompletedAt != nil {
			completed = *upd.CompletedAt
		}
		r.CompletedAt = &completed
	}
	return nil
}
