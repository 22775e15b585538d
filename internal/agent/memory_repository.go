package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
)

// MemoryRepository 以内存方式保存智能体，主要用于测试和单机部署。
type MemoryRepository struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	byAccount map[string]string
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{agents: make(map[string]*Agent), byAccount: make(map[string]string)}
}

// Create 实现 Repository 接口，账户 ID 重复时返回 ErrAgentConflict。
func (r *MemoryRepository) Create(_ context.Context, agent *Agent) error {
	if agent == nil || agent.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; ok {
		return ErrAgentConflict
	}
	if _, ok := r.byAccount[agent.AccountID]; ok {
		return ErrAgentConflict
	}
	r.agents[agent.ID] = cloneAgent(agent)
	r.byAccount[agent.AccountID] = agent.ID
	return nil
}

// Get 返回智能体副本。
func (r *MemoryRepository) Get(_ context.Context, id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return cloneAgent(agent), nil
}

// ListByOwner 实现 Repository 接口。
func (r *MemoryRepository) ListByOwner(_ context.Context, owner string) ([]*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0)
	for _, agent := range r.agents {
		if agent.Owner != owner || agent.Status == StatusDeleted {
			continue
		}
		result = append(result, cloneAgent(agent))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateStatus 实现 Repository 接口。
func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status Status, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Status = status
	agent.UpdatedAt = updatedAt
	return nil
}

// UpdateBalance 实现 Repository 接口。
func (r *MemoryRepository) UpdateBalance(_ context.Context, id string, balance string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	agent.Balance = balance
	agent.UpdatedAt = updatedAt
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
