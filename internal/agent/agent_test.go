package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"yqhp/planfleet/internal/executor"
	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/internal/protocol"
	"yqhp/planfleet/internal/scheduler"
	"yqhp/planfleet/pkg/logger"
)

// fakeFetcher serves a swappable body and counts requests.
type fakeFetcher struct {
	mu          sync.Mutex
	body        []byte
	planErr     error
	digestErr   error
	planCalls   atomic.Int64
	digestCalls atomic.Int64
}

func newFakeFetcher(t *testing.T, p plan.Plan) *fakeFetcher {
	t.Helper()
	f := &fakeFetcher{}
	f.set(t, p)
	return f
}

func (f *fakeFetcher) set(t *testing.T, p plan.Plan) {
	t.Helper()
	body, err := plan.Serialize(p)
	require.NoError(t, err)
	f.mu.Lock()
	f.body = body
	f.mu.Unlock()
}

func (f *fakeFetcher) setRaw(body []byte) {
	f.mu.Lock()
	f.body = body
	f.mu.Unlock()
}

func (f *fakeFetcher) FetchPlan(ctx context.Context) ([]byte, error) {
	f.planCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.planErr != nil {
		return nil, f.planErr
	}
	return append([]byte(nil), f.body...), nil
}

func (f *fakeFetcher) FetchDigest(ctx context.Context) (plan.Digest, error) {
	f.digestCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.digestErr != nil {
		return "", f.digestErr
	}
	return plan.DigestOf(f.body), nil
}

// blockingRunner records runs and blocks until cancelled.
type blockingRunner struct {
	mu      sync.Mutex
	started []plan.Plan
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *blockingRunner) Run(ctx context.Context, p plan.Plan) (*scheduler.RunReport, error) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	r.mu.Lock()
	r.started = append(r.started, p)
	r.mu.Unlock()
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	return &scheduler.RunReport{}, ctx.Err()
}

func (r *blockingRunner) runs() []plan.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]plan.Plan(nil), r.started...)
}

func noopPlan(t *testing.T, target string) plan.Plan {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return plan.New(plan.MustTaskSpec(plan.KindNoop, target, nil, &start))
}

func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.HeartbeatMin = 20 * time.Millisecond
	cfg.HeartbeatMax = 40 * time.Millisecond
	return cfg
}

func TestBootstrap(t *testing.T) {
	f := newFakeFetcher(t, noopPlan(t, "a"))
	a := New(fastConfig(), &blockingRunner{}, WithFetcher(f))

	require.NoError(t, a.Bootstrap(context.Background()))
	want, err := noopPlan(t, "a").Digest()
	require.NoError(t, err)
	assert.Equal(t, want, a.Digest())
	assert.Equal(t, 1, a.Status().Tasks)
	assert.NotEmpty(t, a.ID())
}

func TestBootstrapFailures(t *testing.T) {
	t.Run("connection refused", func(t *testing.T) {
		a := New(&Config{CoordinatorAddress: "127.0.0.1:1", DialTimeout: time.Second, IOTimeout: time.Second}, &blockingRunner{})
		err := a.Run(context.Background())
		require.ErrorIs(t, err, ErrBootstrap)
		assert.True(t, protocol.IsConnectionError(err))
		assert.Equal(t, StateStopped, a.State())
		assert.Empty(t, a.Digest())
	})

	t.Run("malformed plan", func(t *testing.T) {
		f := &fakeFetcher{}
		f.setRaw([]byte(`{"attacks": 7}`))
		r := &blockingRunner{}
		a := New(fastConfig(), r, WithFetcher(f))
		err := a.Run(context.Background())
		require.ErrorIs(t, err, ErrBootstrap)
		assert.True(t, plan.IsParseError(err))
		assert.Empty(t, r.runs())
	})
}

func TestBootstrapFailureIsLoggedCritical(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fakeFetcher{planErr: errors.New("coordinator gone")}
	a := New(fastConfig(), &blockingRunner{}, WithFetcher(f), WithLogger(logger.FromZap(zap.New(core))))

	require.ErrorIs(t, a.Bootstrap(context.Background()), ErrBootstrap)

	entries := logs.FilterMessage("bootstrap failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DPanicLevel, entries[0].Level)
	assert.Equal(t, "coordinator gone", entries[0].ContextMap()["error"])

	f.setRaw([]byte(`{"attacks": 7}`))
	f.planErr = nil
	require.ErrorIs(t, a.Bootstrap(context.Background()), ErrBootstrap)
	assert.Equal(t, 2, logs.FilterMessage("bootstrap failed").FilterLevelExact(zapcore.DPanicLevel).Len())
}

func TestCheckOnceUnchangedDoesNotRefetch(t *testing.T) {
	f := newFakeFetcher(t, noopPlan(t, "a"))
	a := New(fastConfig(), &blockingRunner{}, WithFetcher(f))
	require.NoError(t, a.Bootstrap(context.Background()))

	for i := 0; i < 3; i++ {
		changed, err := a.CheckOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, changed)
	}
	assert.EqualValues(t, 1, f.planCalls.Load())
	assert.EqualValues(t, 3, f.digestCalls.Load())
	assert.Equal(t, 0, a.Runs())
}

func TestCheckOnceErrorsKeepDigest(t *testing.T) {
	f := newFakeFetcher(t, noopPlan(t, "a"))
	a := New(fastConfig(), &blockingRunner{}, WithFetcher(f))
	require.NoError(t, a.Bootstrap(context.Background()))
	old := a.Digest()

	f.mu.Lock()
	f.digestErr = &protocol.ConnectionError{Op: "dial", Addr: "x", Err: errors.New("refused")}
	f.mu.Unlock()
	_, err := a.CheckOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, old, a.Digest())

	// new digest advertised but the body does not decode
	f.mu.Lock()
	f.digestErr = nil
	f.mu.Unlock()
	f.setRaw([]byte(`{"attacks":[{"attack_type":"Bogus","target_ip":"x"}]}`))
	_, err = a.CheckOnce(context.Background())
	require.Error(t, err)
	assert.True(t, plan.IsParseError(err))
	assert.Equal(t, old, a.Digest())

	_, _, errs := a.HeartbeatStats()
	assert.EqualValues(t, 2, errs)
}

func TestHeartbeatDetectsChangeAndSupersedes(t *testing.T) {
	f := newFakeFetcher(t, noopPlan(t, "a"))
	r := &blockingRunner{}
	a := New(fastConfig(), r, WithFetcher(f))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.runs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateResident, a.State())

	// a few unchanged heartbeats never refetch the plan
	require.Eventually(t, func() bool { return f.digestCalls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, f.planCalls.Load())
	assert.Len(t, r.runs(), 1)

	f.set(t, noopPlan(t, "b"))
	want, err := noopPlan(t, "b").Digest()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return a.Digest() == want }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(r.runs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, noopPlan(t, "b"), r.runs()[1])
	assert.False(t, r.overlap.Load(), "superseded run overlapped the new one")
	assert.Equal(t, 2, a.Runs())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}
	assert.Equal(t, StateStopped, a.State())
	assert.False(t, a.Status().Running)
}

func TestResidentAfterCompletion(t *testing.T) {
	f := newFakeFetcher(t, noopPlan(t, "a"))
	reg := executor.NewRegistry()
	reg.MustRegister(executor.NewNoopExecutor())

	finished := make(chan *scheduler.RunReport, 4)
	a := New(fastConfig(), scheduler.New(reg), WithFetcher(f), WithRunCallback(func(r *scheduler.RunReport, err error) {
		if err == nil {
			finished <- r
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case r := <-finished:
		assert.True(t, r.Completed)
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not complete")
	}

	// still resident and polling
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateResident, a.State())
	assert.True(t, a.Status().Alive)
	checks, _, _ := a.HeartbeatStats()
	assert.Positive(t, checks)

	// a new plan still triggers a run
	f.set(t, noopPlan(t, "b"))
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("changed plan did not run")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := jitter(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Second, jitter(5*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, jitter(5*time.Second, time.Second))
}

func TestAgentStateString(t *testing.T) {
	assert.Equal(t, "resident", StateResident.String())
	assert.Equal(t, "unknown", AgentState(42).String())
}
