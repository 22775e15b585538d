package task

import "context"

// Store 抽象了任务历史的持久化接口。
type Store interface {
	Insert(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// Transition 原子地检查终态并写入更新，终态记录返回 ErrTaskConflict。
	Transition(ctx context.Context, id string, upd Update) (*Record, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*Record, error)
	// FailRunning 将智能体所有仍在运行或等待的记录标记为失败，返回受影响数量。
	FailRunning(ctx context.Context, agentID string, message string) (int, error)
	Clear(ctx context.Context, agentID string) error
	Stats(ctx context.Context, agentID string) (Stats, error)
	Close() error
}
