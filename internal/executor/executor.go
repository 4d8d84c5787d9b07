// Package executor 提供任务执行器框架：按任务类型注册执行器，并由调度器查找调用。
package executor

import (
	"context"
	"time"

	"yqhp/planfleet/internal/plan"
)

// Executor 定义任务执行器接口。
type Executor interface {
	// Kind 返回执行器处理的任务类型。
	Kind() plan.Kind

	// Execute 执行一次任务。阻塞操作必须有超时；ctx 取消为尽力而为。
	Execute(ctx context.Context, task *Task) error
}

// Task 是一次具体执行：同一 TaskSpec 的每个并行副本各有一个 Task。
type Task struct {
	Spec    plan.TaskSpec
	Replica int
	RunID   string
}

// Func 将普通函数适配为 Executor，主要用于测试和嵌入方自定义类型。
type Func struct {
	K  plan.Kind
	Fn func(ctx context.Context, task *Task) error
}

// Kind 返回任务类型。
func (f Func) Kind() plan.Kind { return f.K }

// Execute 调用包装的函数。
func (f Func) Execute(ctx context.Context, task *Task) error { return f.Fn(ctx, task) }

// hold 等待 d 或 ctx 结束，以先到者为准。
func hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
