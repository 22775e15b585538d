package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"SwapAgent-Chain/internal/account"
	xerrors "SwapAgent-Chain/internal/errors"
	"SwapAgent-Chain/internal/task"
	"SwapAgent-Chain/pkg/logger"
)

// Provisioner 创建并注资链上账户。
type Provisioner interface {
	CreateAccount(ctx context.Context) (*account.Account, error)
}

// KeyCipher 负责私钥的加解密。
type KeyCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// BalanceReader 读取账户的可用余额（NEAR 十进制字符串）。
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID string) (string, error)
}

// Service 负责智能体的创建与生命周期管理。
type Service struct {
	repo        Repository
	provisioner Provisioner
	cipher      KeyCipher
	ledger      *task.Ledger
	balances    BalanceReader
	now         func() time.Time
	logger      *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithBalanceReader 配置余额读取能力，未配置时 RefreshBalance 不可用。
func WithBalanceReader(reader BalanceReader) ServiceOption {
	return func(s *Service) {
		s.balances = reader
	}
}

// WithServiceClock 替换时间来源。
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造智能体服务。
func NewService(repo Repository, provisioner Provisioner, cipher KeyCipher, ledger *task.Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		repo:        repo,
		provisioner: provisioner,
		cipher:      cipher,
		ledger:      ledger,
		now:         time.Now,
		logger:      logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateAgent 生成密钥、注册并注资账户、加密保存私钥，并写入一条 setup 任务。
// 水龙头失败不会导致创建失败，setup 记录中会标注 needs_manual_funding。
func (s *Service) CreateAgent(ctx context.Context, req CreateRequest) (*Agent, error) {
	if s.repo == nil || s.provisioner == nil || s.cipher == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "智能体服务未初始化")
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return nil, xerrors.New(CodeAgentValidation, "智能体目标不能为空")
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return nil, xerrors.New(CodeAgentValidation, "owner 不能为空")
	}

	// 创建链上账户。
	acct, err := s.provisioner.CreateAccount(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExternalService, err, "创建链上账户失败")
	}

	// 加密私钥后再落库。
	encrypted, err := s.cipher.Encrypt(acct.PrivateKey)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	id := uuid.NewString()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Agent " + id[:8]
	}
	agent := &Agent{
		ID:           id,
		Owner:        owner,
		Name:         name,
		Goal:         goal,
		AccountID:    acct.AccountID,
		PublicKey:    acct.PublicKey,
		EncryptedKey: encrypted,
		Balance:      acct.FundedAmount,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, agent); err != nil {
		return nil, err
	}

	// 记录 setup 任务。
	output := map[string]any{
		"account_id":    acct.AccountID,
		"public_key":    acct.PublicKey,
		"funded_amount": acct.FundedAmount,
		"funded":        acct.Funded,
	}
	if !acct.Funded {
		output["needs_manual_funding"] = true
		output["rate_limited"] = acct.RateLimited
	}
	if s.ledger != nil {
		if _, err := s.ledger.Record(ctx, agent.ID, task.TypeSetup,
			fmt.Sprintf("Create account %s", acct.AccountID),
			map[string]any{"name": name, "goal": goal}, output, nil); err != nil {
			s.logger.Warn("写入 setup 任务失败", slog.Any("error", err), slog.String("agent_id", agent.ID))
		}
	}

	logger.Audit().Info("智能体已创建",
		slog.String("agent_id", agent.ID),
		slog.String("owner", owner),
		slog.String("account_id", agent.AccountID),
		slog.String("funded_amount", acct.FundedAmount),
		slog.Bool("funded", acct.Funded))
	return cloneAgent(agent), nil
}

// Get 返回智能体，已删除的智能体视为不存在。
func (s *Service) Get(ctx context.Context, id string) (*Agent, error) {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Status == StatusDeleted {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// GetOwned 在 Get 的基础上校验归属，不属于 owner 的智能体同样视为不存在。
func (s *Service) GetOwned(ctx context.Context, owner, id string) (*Agent, error) {
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.Owner != owner {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// List 返回 owner 的全部未删除智能体。
func (s *Service) List(ctx context.Context, owner string) ([]*Agent, error) {
	return s.repo.ListByOwner(ctx, owner)
}

// SetStatus 切换 active/paused。删除请使用 Delete。
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Agent, error) {
	if status != StatusActive && status != StatusPaused {
		return nil, xerrors.New(CodeAgentValidation, "不支持的状态: "+string(status))
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, id, status, s.now().UTC()); err != nil {
		return nil, err
	}
	logger.Audit().Info("智能体状态变更", slog.String("agent_id", id), slog.String("status", string(status)))
	return s.repo.Get(ctx, id)
}

// Delete 软删除智能体并清空任务历史。
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusDeleted, s.now().UTC()); err != nil {
		return err
	}
	if s.ledger != nil {
		if err := s.ledger.ClearTasks(ctx, id); err != nil {
			return err
		}
	}
	logger.Audit().Info("智能体已删除", slog.String("agent_id", id))
	return nil
}

// RefreshBalance 从链上读取余额并更新缓存值。缓存余额仅用于展示，不参与花费决策。
func (s *Service) RefreshBalance(ctx context.Context, id string) (*Agent, error) {
	if s.balances == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置余额读取")
	}
	agent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	balance, err := s.balances.GetBalance(ctx, agent.AccountID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBalance(ctx, id, balance, s.now().UTC()); err != nil {
		return nil, err
	}
	agent.Balance = balance
	return agent, nil
}

// loadForRun 取出可运行的智能体及其明文私钥。
func (s *Service) loadForRun(ctx context.Context, id string) (*Agent, string, error) {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	switch agent.Status {
	case StatusActive:
	case StatusDeleted:
		return nil, "", ErrAgentNotFound
	default:
		return nil, "", xerrors.New(CodeAgentInactive, fmt.Sprintf("agent %s is %s", id, agent.Status))
	}
	rawKey, err := s.cipher.Decrypt(agent.EncryptedKey)
	if err != nil {
		return nil, "", err
	}
	return agent, rawKey, nil
}

// cacheBalance 尽力更新缓存余额，失败只记录日志。
func (s *Service) cacheBalance(ctx context.Context, id, balance string) {
	if err := s.repo.UpdateBalance(ctx, id, balance, s.now().UTC()); err != nil && !stdErrors.Is(err, ErrAgentNotFound) {
		s.logger.Warn("更新缓存余额失败", slog.Any("error", err), slog.String("agent_id", id))
	}
}
