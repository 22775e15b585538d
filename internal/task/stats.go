package task

import "time"

// Stats 聚合了单个智能体的任务状态统计，常用于仪表盘或健康检查。
type Stats struct {
	Total        int        `json:"total"`
	Pending      int        `json:"pending"`
	Running      int        `json:"running"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

func (s *Stats) add(r *Record) {
	s.Total++
	switch r.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
	ts := r.CreatedAt
	if r.CompletedAt != nil && r.CompletedAt.After(ts) {
		ts = *r.CompletedAt
	}
	if s.LastActivity == nil || ts.After(*s.LastActivity) {
		s.LastActivity = &ts
	}
}
