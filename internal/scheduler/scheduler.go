package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yqhp/planfleet/internal/executor"
	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/pkg/logger"
)

// Scheduler executes plans against an executor registry.
type Scheduler struct {
	registry *executor.Registry
	log      logger.Logger
	clock    Clock
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the barrier clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Scheduler. A nil registry falls back to the built-in kinds.
func New(registry *executor.Registry, opts ...Option) *Scheduler {
	if registry == nil {
		registry = executor.NewDefaultRegistry()
	}
	s := &Scheduler{
		registry: registry,
		log:      logger.Nop(),
		clock:    RealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes p's task specs in order. Every execution of a spec finishes
// before the next spec starts. Execution failures are recorded in the
// report and never stop the run; only ctx does, checked between specs and
// at each start barrier.
func (s *Scheduler) Run(ctx context.Context, p plan.Plan) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.NewString(),
		Started: s.clock.Now(),
		Tasks:   make([]TaskReport, 0, len(p.Tasks)),
	}
	log := s.log.With(zap.String("run_id", report.RunID))
	log.Info("plan run started", zap.Int("tasks", len(p.Tasks)))

	for i, spec := range p.Tasks {
		if err := ctx.Err(); err != nil {
			report.Finished = s.clock.Now()
			log.Info("plan run cancelled", zap.Int("completed_tasks", i))
			return report, err
		}
		report.Tasks = append(report.Tasks, s.runTask(ctx, log, report.RunID, i, spec))
	}

	report.Finished = s.clock.Now()
	if err := ctx.Err(); err != nil {
		log.Info("plan run cancelled", zap.Int("completed_tasks", len(p.Tasks)))
		return report, err
	}
	report.Completed = true
	log.Info("plan run completed",
		zap.Duration("duration", report.Finished.Sub(report.Started)),
		zap.Int("failures", report.Failures()),
	)
	return report, nil
}

func (s *Scheduler) runTask(ctx context.Context, log logger.Logger, runID string, index int, spec plan.TaskSpec) TaskReport {
	tr := TaskReport{
		Index:       index,
		Kind:        spec.Kind.String(),
		Target:      spec.Target,
		Parallelism: spec.Parallelism,
	}
	log = log.With(
		zap.Int("task", index),
		zap.String("kind", tr.Kind),
		zap.String("target", spec.Target),
		zap.Int("parallelism", spec.Parallelism),
	)
	began := s.clock.Now()

	exec, err := s.registry.GetOrError(spec.Kind)
	if err != nil {
		log.Error("task skipped", zap.Error(err))
		tr.Failures = spec.Parallelism
		tr.Duration = s.clock.Now().Sub(began)
		return tr
	}

	log.Info("task started", zap.Time("start_time", spec.StartTime))

	var (
		executions atomic.Int64
		failures   atomic.Int64
		cancelled  atomic.Int64
		lat        = newLatencies()
	)
	g := NewGroup(spec.Parallelism)
	for replica := 0; replica < spec.Parallelism; replica++ {
		task := &executor.Task{Spec: spec, Replica: replica, RunID: runID}
		g.Go(func() {
			if err := waitUntil(ctx, s.clock, spec.StartTime); err != nil {
				cancelled.Add(1)
				return
			}
			start := s.clock.Now()
			err := invoke(ctx, exec, task)
			lat.record(s.clock.Now().Sub(start))
			executions.Add(1)
			if err != nil {
				failures.Add(1)
				log.Warn("execution failed", zap.Int("replica", task.Replica), zap.Error(err))
			}
		})
	}
	g.Wait()

	tr.Executions = int(executions.Load())
	tr.Failures = int(failures.Load())
	tr.Cancelled = int(cancelled.Load())
	tr.Latency = lat.summary()
	tr.Duration = s.clock.Now().Sub(began)

	log.Info("task finished",
		zap.Int("executions", tr.Executions),
		zap.Int("failures", tr.Failures),
		zap.Int("cancelled", tr.Cancelled),
		zap.Duration("p95", tr.Latency.P95),
		zap.Duration("duration", tr.Duration),
	)
	return tr
}

// invoke runs one execution, turning a panic into an error.
func invoke(ctx context.Context, exec executor.Executor, task *executor.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = executor.NewExecutionError(task.Spec.Kind,
				fmt.Sprintf("panic: %v", r), fmt.Errorf("%s", debug.Stack()))
		}
	}()
	return exec.Execute(ctx, task)
}

// Elapsed returns how long the run took.
func (r *RunReport) Elapsed() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
