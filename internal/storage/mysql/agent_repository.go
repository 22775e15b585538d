package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"SwapAgent-Chain/internal/agent"
	xerrors "SwapAgent-Chain/internal/errors"
)

const agentColumns = `id, owner, name, goal, account_id, public_key, encrypted_key, balance, status, created_at, updated_at`

// AgentRepository 使用 agents 表实现 agent.Repository。
type AgentRepository struct {
	db *sql.DB
}

// NewAgentRepository 基于已有连接创建仓库。
func NewAgentRepository(db *sql.DB) (*AgentRepository, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	return &AgentRepository{db: db}, nil
}

// Create 插入智能体，主键或账户 ID 重复时返回 agent.ErrAgentConflict。
func (r *AgentRepository) Create(ctx context.Context, a *agent.Agent) error {
	if a == nil || a.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空")
	}
	const stmt = `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, stmt,
		a.ID, a.Owner, a.Name, a.Goal, a.AccountID, a.PublicKey, a.EncryptedKey,
		a.Balance, string(a.Status), a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return agent.ErrAgentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入智能体失败")
	}
	return nil
}

// Get 按 ID 查询，包括已软删除的记录。
func (r *AgentRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, agent.ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	return a, nil
}

// ListByOwner 返回 owner 名下未删除的智能体。
func (r *AgentRepository) ListByOwner(ctx context.Context, owner string) ([]*agent.Agent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE owner = ? AND status <> ? ORDER BY created_at DESC, id DESC`,
		owner, string(agent.StatusDeleted))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	result := make([]*agent.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析智能体失败")
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体失败")
	}
	return result, nil
}

// UpdateStatus 实现 agent.Repository。
func (r *AgentRepository) UpdateStatus(ctx context.Context, id string, status agent.Status, updatedAt time.Time) error {
	return r.update(ctx, id, `UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`, string(status), updatedAt.UnixMilli(), id)
}

// UpdateBalance 实现 agent.Repository。
func (r *AgentRepository) UpdateBalance(ctx context.Context, id string, balance string, updatedAt time.Time) error {
	return r.update(ctx, id, `UPDATE agents SET balance = ?, updated_at = ? WHERE id = ?`, balance, updatedAt.UnixMilli(), id)
}

func (r *AgentRepository) update(ctx context.Context, id, stmt string, args ...any) error {
	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新智能体失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	// 值未变化时 MySQL 同样返回 0，需要区分记录是否存在。
	_, err = r.Get(ctx, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*agent.Agent, error) {
	var (
		a         agent.Agent
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Owner, &a.Name, &a.Goal, &a.AccountID, &a.PublicKey, &a.EncryptedKey,
		&a.Balance, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Status = agent.Status(status)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &a, nil
}

var _ agent.Repository = (*AgentRepository)(nil)
