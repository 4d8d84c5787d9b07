// Package agent 实现工作节点：启动时拉取计划并执行，随后通过心跳检测摘要变化，
// 在计划变更时取消旧的运行并执行新计划。
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duke-git/lancet/v2/random"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/internal/protocol"
	"yqhp/planfleet/internal/scheduler"
	"yqhp/planfleet/pkg/logger"
)

// Fetcher 从 Coordinator 获取计划与摘要。*protocol.Client 实现了该接口。
type Fetcher interface {
	FetchPlan(ctx context.Context) ([]byte, error)
	FetchDigest(ctx context.Context) (plan.Digest, error)
}

// Runner 执行一份计划。*scheduler.Scheduler 实现了该接口。
type Runner interface {
	Run(ctx context.Context, p plan.Plan) (*scheduler.RunReport, error)
}

// Config 保存 Agent 的配置信息。
type Config struct {
	// ID 是此 Agent 的唯一标识符，为空时自动生成。
	ID string

	// CoordinatorAddress 是 Coordinator 的 host:port。
	CoordinatorAddress string

	// HeartbeatMin 与 HeartbeatMax 是心跳间隔的随机区间。
	HeartbeatMin time.Duration
	HeartbeatMax time.Duration

	// DialTimeout 与 IOTimeout 用于每次协议交换。
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// DefaultConfig 返回默认的 Agent 配置。
func DefaultConfig() *Config {
	return &Config{
		CoordinatorAddress: "127.0.0.1:9999",
		HeartbeatMin:       3 * time.Minute,
		HeartbeatMax:       5 * time.Minute,
		DialTimeout:        5 * time.Second,
		IOTimeout:          30 * time.Second,
	}
}

// AgentState 表示 Agent 的生命周期状态。
type AgentState int32

const (
	StateIdle AgentState = iota
	StateBootstrapping
	StateResident
	StateStopping
	StateStopped
)

func (s AgentState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBootstrapping:
		return "bootstrapping"
	case StateResident:
		return "resident"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Agent 是工作节点。
type Agent struct {
	config  *Config
	fetcher Fetcher
	runner  Runner
	log     logger.Logger

	session Session
	state   atomic.Int32

	// 心跳统计
	checks  atomic.Int64
	changes atomic.Int64
	failed  atomic.Int64

	interval func() time.Duration
	onRun    func(*scheduler.RunReport, error)
}

// Option 配置 Agent。
type Option func(*Agent)

// WithLogger 设置日志记录器。
func WithLogger(l logger.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithFetcher 替换默认的协议客户端。
func WithFetcher(f Fetcher) Option {
	return func(a *Agent) {
		if f != nil {
			a.fetcher = f
		}
	}
}

// WithRunCallback 在每次运行结束后回调。
func WithRunCallback(fn func(*scheduler.RunReport, error)) Option {
	return func(a *Agent) { a.onRun = fn }
}

// New 创建 Agent。runner 为 nil 时使用内置执行器的调度器。
func New(config *Config, runner Runner, opts ...Option) *Agent {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	a := &Agent{
		config: config,
		runner: runner,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = protocol.NewClient(config.CoordinatorAddress, config.DialTimeout, config.IOTimeout)
	}
	if a.runner == nil {
		a.runner = scheduler.New(nil, scheduler.WithLogger(a.log))
	}
	a.log = a.log.With(zap.String("agent_id", config.ID))
	a.interval = func() time.Duration { return jitter(config.HeartbeatMin, config.HeartbeatMax) }
	a.state.Store(int32(StateIdle))
	return a
}

// ID 返回 Agent 标识。
func (a *Agent) ID() string { return a.config.ID }

// State 返回当前生命周期状态。
func (a *Agent) State() AgentState { return AgentState(a.state.Load()) }

// Digest 返回缓存的计划摘要。
func (a *Agent) Digest() plan.Digest { return a.session.Digest() }

// Runs 返回已启动的运行次数。
func (a *Agent) Runs() int { return a.session.Snapshot().Runs }

// Status 返回会话快照。
func (a *Agent) Status() Status { return a.session.Snapshot() }

// HeartbeatStats 返回心跳检查次数、检测到的变更次数与错误次数。
func (a *Agent) HeartbeatStats() (checks, changes, errs int64) {
	return a.checks.Load(), a.changes.Load(), a.failed.Load()
}

// Bootstrap 获取并解析初始计划，记录其摘要。任何失败都包装为 ErrBootstrap，不重试。
func (a *Agent) Bootstrap(ctx context.Context) error {
	a.state.Store(int32(StateBootstrapping))
	a.log.Info("bootstrapping", zap.String("coordinator", a.config.CoordinatorAddress))

	body, err := a.fetcher.FetchPlan(ctx)
	if err != nil {
		a.state.Store(int32(StateStopped))
		a.log.Critical("bootstrap failed", zap.Error(err))
		return fmt.Errorf("%w: fetch plan: %w", ErrBootstrap, err)
	}
	p, err := plan.Deserialize(body)
	if err != nil {
		a.state.Store(int32(StateStopped))
		a.log.Critical("bootstrap failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	d := plan.DigestOf(body)
	a.session.install(p, d)
	a.log.Info("plan received", zap.String("digest", d.Short()), zap.Int("tasks", p.Len()))
	return nil
}

// Run 执行完整生命周期：bootstrap、首次运行、心跳，然后常驻直到 ctx 结束。
// 计划执行完成后 Agent 仍然常驻，等待心跳触发的新计划。
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}

	a.session.setAlive(true)
	a.state.Store(int32(StateResident))

	a.session.mu.Lock()
	a.startRunLocked(ctx, a.session.plan, a.session.digest)
	a.session.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeat(ctx)
	}()

	<-ctx.Done()
	a.state.Store(int32(StateStopping))
	wg.Wait()
	a.awaitCurrent(context.Background())

	a.session.setAlive(false)
	a.state.Store(int32(StateStopped))
	checks, changes, errs := a.HeartbeatStats()
	a.log.Info("agent stopped",
		zap.Int("runs", a.Runs()),
		zap.Int64("heartbeats", checks),
		zap.Int64("plan_changes", changes),
		zap.Int64("heartbeat_errors", errs),
	)
	return nil
}

// startRunLocked 在后台启动一次运行，调用方需持有 session.mu。
func (a *Agent) startRunLocked(parent context.Context, p plan.Plan, d plan.Digest) {
	runCtx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	a.session.cancel = cancel
	a.session.done = done
	a.session.runs++

	log := a.log.With(zap.String("digest", d.Short()))
	log.Info("plan run starting", zap.Int("tasks", p.Len()))

	go func() {
		defer close(done)
		defer cancel()

		report, err := a.runner.Run(runCtx, p)

		a.session.mu.Lock()
		a.session.lastReport = report
		a.session.lastErr = err
		a.session.mu.Unlock()

		switch {
		case err != nil:
			log.Info("plan run stopped", zap.Error(err))
		case report != nil:
			log.Info("plan run finished", zap.Int("failures", report.Failures()), zap.Duration("elapsed", report.Elapsed()))
		}
		if a.onRun != nil {
			a.onRun(report, err)
		}
	}()
}

// awaitCurrent 取消当前运行并等待其返回。ctx 结束时放弃等待。
func (a *Agent) awaitCurrent(ctx context.Context) bool {
	cancel, done := a.session.current()
	if cancel == nil {
		return true
	}
	cancel()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// heartbeat 按随机间隔轮询摘要，直到 ctx 结束。
func (a *Agent) heartbeat(ctx context.Context) {
	for {
		wait := a.interval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := a.CheckOnce(ctx); err != nil {
			a.log.Warn("heartbeat failed", zap.Error(err))
		}
	}
}

// CheckOnce 执行一次心跳：获取摘要，与缓存比较，变化时拉取新计划并替换当前运行。
// 网络与解析错误返回给调用方，缓存的摘要保持不变。
func (a *Agent) CheckOnce(ctx context.Context) (changed bool, err error) {
	a.checks.Add(1)
	defer func() {
		if err != nil {
			a.failed.Add(1)
		}
	}()

	remote, err := a.fetcher.FetchDigest(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch digest: %w", err)
	}
	cached := a.session.Digest()
	if remote == cached {
		a.log.Debug("plan unchanged", zap.String("digest", cached.Short()))
		return false, nil
	}

	a.log.Info("plan digest changed", zap.String("old", cached.Short()), zap.String("new", remote.Short()))
	body, err := a.fetcher.FetchPlan(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch plan: %w", err)
	}
	p, err := plan.Deserialize(body)
	if err != nil {
		return false, err
	}

	if !a.awaitCurrent(ctx) {
		return false, ctx.Err()
	}
	d := plan.DigestOf(body)

	a.session.mu.Lock()
	defer a.session.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.session.plan = p
	a.session.digest = d
	a.startRunLocked(ctx, p, d)
	a.changes.Add(1)
	return true, nil
}

// jitter 返回 [min, max] 内均匀分布的毫秒级间隔。
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	ms := random.RandInt(int(min/time.Millisecond), int(max/time.Millisecond)+1)
	return time.Duration(ms) * time.Millisecond
}
