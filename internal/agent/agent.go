package agent

import (
	"context"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
)

// Status 表示智能体的生命周期状态。
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// Agent 是一个自主交易智能体。EncryptedKey 只保存密文，明文私钥仅在单次运行中存在。
type Agent struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Name         string    `json:"name"`
	Goal         string    `json:"goal"`
	AccountID    string    `json:"account_id"`
	PublicKey    string    `json:"public_key"`
	EncryptedKey string    `json:"-"`
	Balance      string    `json:"balance"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest 描述创建智能体的参数。
type CreateRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Goal  string `json:"goal"`
}

// Repository 抽象了智能体记录的持久化。
type Repository interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	// ListByOwner 返回未删除的智能体，按创建时间倒序。
	ListByOwner(ctx context.Context, owner string) ([]*Agent, error)
	UpdateStatus(ctx context.Context, id string, status Status, updatedAt time.Time) error
	UpdateBalance(ctx context.Context, id string, balance string, updatedAt time.Time) error
}

const (
	CodeAgentNotFound   xerrors.Code = "AGENT_NOT_FOUND"
	CodeAgentInactive   xerrors.Code = "AGENT_INACTIVE"
	CodeAgentBusy       xerrors.Code = "AGENT_BUSY"
	CodeAgentConflict   xerrors.Code = "AGENT_CONFLICT"
	CodeAgentValidation xerrors.Code = "AGENT_VALIDATION_FAILED"
	CodeRunPanic        xerrors.Code = "AGENT_RUN_PANIC"
	CodeRunTimeout      xerrors.Code = "AGENT_RUN_TIMEOUT"
	CodeSwapFailed      xerrors.Code = "AGENT_SWAP_FAILED"
)

var (
	// ErrAgentNotFound 表示智能体不存在或已删除。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrAgentInactive 表示智能体不是 active 状态。
	ErrAgentInactive = xerrors.New(CodeAgentInactive, "agent is not active")
	// ErrAgentBusy 表示同一智能体已有运行在进行。
	ErrAgentBusy = xerrors.New(CodeAgentBusy, "agent run already in progress")
	// ErrAgentConflict 表示链上账户 ID 重复。
	ErrAgentConflict = xerrors.New(CodeAgentConflict, "account id already registered")
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{Message: "agent not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAgentInactive, xerrors.Attributes{Message: "agent is not active", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeAgentBusy, xerrors.Attributes{Message: "agent run already in progress", Severity: xerrors.SeverityInfo, Retryable: true})
	xerrors.Register(CodeAgentConflict, xerrors.Attributes{Message: "account id already registered", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeAgentValidation, xerrors.Attributes{Message: "agent validation failed", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeRunPanic, xerrors.Attributes{Message: "agent run panicked", Severity: xerrors.SeverityCritical, Alert: true})
	xerrors.Register(CodeRunTimeout, xerrors.Attributes{Message: "agent run exceeded its time budget", Severity: xerrors.SeverityWarning, Alert: true})
	xerrors.Register(CodeSwapFailed, xerrors.Attributes{Message: "swap failed", Severity: xerrors.SeverityWarning, Alert: true})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusPaused, StatusDeleted:
		return true
	default:
		return false
	}
}

func cloneAgent(a *Agent) *Agent {
	clone := *a
	return &clone
}
