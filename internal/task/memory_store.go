package task

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
)

// MemoryStore 以内存方式保存任务历史，主要用于测试和单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	seq     map[string]int64
	next    int64
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), seq: make(map[string]int64)}
}

// Insert 实现 Store 接口。
func (m *MemoryStore) Insert(_ context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; ok {
		return ErrTaskConflict
	}
	m.next++
	m.seq[record.ID] = m.next
	m.records[record.ID] = cloneRecord(record)
	return nil
}

// Get 返回记录副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return cloneRecord(record), nil
}

// Transition 在写锁内完成终态检查与更新。
func (m *MemoryStore) Transition(_ context.Context, id string, upd Update) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if err := apply(record, upd, time.Now().UTC()); err != nil {
		return cloneRecord(record), err
	}
	return cloneRecord(record), nil
}

// List 返回智能体的记录。
func (m *MemoryStore) List(_ context.Context, agentID string, opts ListOptions) ([]*Record, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Record, 0)
	for _, record := range m.records {
		if record.AgentID != agentID || !opts.matches(record) {
			continue
		}
		results = append(results, cloneRecord(record))
	}
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Order == SortOldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.Order == SortOldestFirst {
			return m.seq[a.ID] < m.seq[b.ID]
		}
		return m.seq[a.ID] > m.seq[b.ID]
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// FailRunning 实现 Store 接口。
func (m *MemoryStore) FailRunning(_ context.Context, agentID, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, record := range m.records {
		if record.AgentID != agentID || record.Status.IsTerminal() {
			continue
		}
		if err := apply(record, Update{Status: StatusFailed, ErrorMessage: message}, now); err == nil {
			count++
		}
	}
	return count, nil
}

// Clear 删除智能体的全部记录。
func (m *MemoryStore) Clear(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, record := range m.records {
		if record.AgentID == agentID {
			delete(m.records, id)
			delete(m.seq, id)
		}
	}
	return nil
}

// Stats 统计智能体的记录状态。
func (m *MemoryStore) Stats(_ context.Context, agentID string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{}
	for _, record := range m.records {
		if record.AgentID == agentID {
			stats.add(record)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
