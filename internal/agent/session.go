package agent

import (
	"context"
	"sync"

	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/internal/scheduler"
)

// Session 保存 Agent 的会话状态：缓存的摘要、当前运行的取消函数与完成通道。
// 所有字段由 mu 保护，只有 bootstrap 与心跳会写入。
type Session struct {
	mu         sync.Mutex
	digest     plan.Digest
	plan       plan.Plan
	cancel     context.CancelFunc
	done       chan struct{}
	alive      bool
	runs       int
	lastReport *scheduler.RunReport
	lastErr    error
}

// Status 是会话的只读快照。
type Status struct {
	Digest     plan.Digest
	Tasks      int
	Running    bool
	Alive      bool
	Runs       int
	LastReport *scheduler.RunReport
	LastErr    error
}

// Digest 返回当前缓存的计划摘要。
func (s *Session) Digest() plan.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest
}

// Snapshot 返回会话状态快照。
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Digest:     s.digest,
		Tasks:      s.plan.Len(),
		Alive:      s.alive,
		Runs:       s.runs,
		LastReport: s.lastReport,
		LastErr:    s.lastErr,
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			st.Running = true
		}
	}
	return st
}

// install 记录新的计划与摘要。
func (s *Session) install(p plan.Plan, d plan.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
	s.digest = d
}

// current 返回当前运行的取消函数与完成通道，可能为 nil。
func (s *Session) current() (context.CancelFunc, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel, s.done
}

func (s *Session) setAlive(v bool) {
	s.mu.Lock()
	s.alive = v
	s.mu.Unlock()
}
