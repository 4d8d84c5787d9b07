package executor

import (
	"fmt"
	"sort"
	"sync"

	"yqhp/planfleet/internal/plan"
)

// Registry 管理任务类型到执行器的映射。
type Registry struct {
	executors map[plan.Kind]Executor
	mu        sync.RWMutex
}

// NewRegistry 创建一个空的执行器注册表。
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[plan.Kind]Executor),
	}
}

// NewDefaultRegistry 创建注册了全部内置执行器的注册表。
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(NewNoopExecutor())
	r.MustRegister(NewSleepExecutor())
	r.MustRegister(NewTCPConnectExecutor())
	r.MustRegister(NewHTTPGetExecutor())
	return r
}

// Register 注册执行器。类型必须属于封闭的任务类型集合，且不能重复注册。
func (r *Registry) Register(executor Executor) error {
	if executor == nil {
		return fmt.Errorf("cannot register nil executor")
	}

	kind := executor.Kind()
	if !kind.Valid() {
		return fmt.Errorf("cannot register executor for unknown kind: %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor already registered: %s", kind)
	}

	r.executors[kind] = executor
	return nil
}

// MustRegister 注册执行器，出错时 panic。
func (r *Registry) MustRegister(executor Executor) {
	if err := r.Register(executor); err != nil {
		panic(err)
	}
}

// Replace 覆盖已注册的执行器，用于测试替身。
func (r *Registry) Replace(executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[executor.Kind()] = executor
}

// Get 按类型获取执行器，不存在时返回 nil。
func (r *Registry) Get(kind plan.Kind) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.executors[kind]
}

// GetOrError 按类型获取执行器，不存在时返回 ExecutorError。
func (r *Registry) GetOrError(kind plan.Kind) (Executor, error) {
	executor := r.Get(kind)
	if executor == nil {
		return nil, NewExecutorNotFoundError(kind)
	}
	return executor, nil
}

// Has 检查类型是否已注册。
func (r *Registry) Has(kind plan.Kind) bool {
	return r.Get(kind) != nil
}

// Kinds 返回已注册的类型，按名称排序。
func (r *Registry) Kinds() []plan.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]plan.Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Count 返回已注册执行器数量。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}
