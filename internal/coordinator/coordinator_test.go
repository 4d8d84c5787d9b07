package coordinator

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"yqhp/planfleet/internal/plan"
	"yqhp/planfleet/internal/protocol"
	"yqhp/planfleet/pkg/logger"
)

// swapPlan is a provider whose plan can be replaced during a test.
type swapPlan struct {
	cur atomic.Pointer[Snapshot]
}

func newSwapPlan(t *testing.T, p plan.Plan) *swapPlan {
	t.Helper()
	s := &swapPlan{}
	s.Set(t, p)
	return s
}

func (s *swapPlan) Set(t *testing.T, p plan.Plan) {
	t.Helper()
	snap, err := NewSnapshot(p)
	require.NoError(t, err)
	s.cur.Store(snap)
}

func (s *swapPlan) Current() *Snapshot { return s.cur.Load() }

func startCoordinator(t *testing.T, provider PlanProvider, cfg *Config) *Coordinator {
	t.Helper()
	return startLoggedCoordinator(t, provider, cfg, nil)
}

func startLoggedCoordinator(t *testing.T, provider PlanProvider, cfg *Config, log logger.Logger) *Coordinator {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Address = "127.0.0.1:0"
	c := New(cfg, provider, log)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = c.Stop(stopCtx)
	})
	return c
}

func samplePlan(t *testing.T) plan.Plan {
	t.Helper()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return plan.New(
		plan.MustTaskSpec(plan.KindNoop, "127.0.0.1", map[string]any{"duration": 1}, &start),
		plan.MustTaskSpec(plan.KindSleep, "127.0.0.1", map[string]any{"duration": 2, "parallelism": 3}, &start),
	)
}

func rawExchange(t *testing.T, addr string, req []byte) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if len(req) > 0 {
		_, err = conn.Write(req)
		require.NoError(t, err)
	}
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	return body
}

func TestDigestMatchesPlanBytes(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)
	addr := c.Addr().String()

	body := rawExchange(t, addr, []byte{'0'})
	digest := rawExchange(t, addr, []byte{'1'})

	assert.Len(t, digest, protocol.DigestLength)
	assert.Equal(t, string(plan.DigestOf(body)), string(digest))

	expected, err := plan.Serialize(samplePlan(t))
	require.NoError(t, err)
	assert.Equal(t, expected, body)

	decoded, err := plan.Deserialize(body)
	require.NoError(t, err)
	assert.Equal(t, samplePlan(t), decoded)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.PlanRequests)
	assert.EqualValues(t, 1, stats.DigestRequests)
	assert.Equal(t, StateRunning, c.State())
}

func TestClientAgainstCoordinator(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)

	client := protocol.NewClient(c.Addr().String(), time.Second, 5*time.Second)
	body, err := client.FetchPlan(context.Background())
	require.NoError(t, err)
	d, err := client.FetchDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, plan.DigestOf(body), d)
	assert.Equal(t, provider.Current().Digest, d)
}

func TestUnknownOpcodeClosesWithoutResponse(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)

	for _, b := range []byte{'2', 'x', 0x00, 0xff} {
		assert.Empty(t, rawExchange(t, c.Addr().String(), []byte{b}))
	}
	assert.EqualValues(t, 4, c.Stats().Rejected)

	// plan is unaffected by garbage traffic
	assert.Equal(t, provider.Current().Digest, plan.DigestOf(rawExchange(t, c.Addr().String(), []byte{'0'})))
}

func TestEmptyRequestIsRejected(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)

	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	conn.Close()
	assert.Empty(t, body)

	require.Eventually(t, func() bool { return c.Stats().Rejected == 1 }, time.Second, 10*time.Millisecond)
}

func TestProtocolAnomaliesLoggedAtWarn(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := &Config{ReadTimeout: 100 * time.Millisecond, WriteTimeout: time.Second}
	c := startLoggedCoordinator(t, provider, cfg, logger.FromZap(zap.New(core)))

	assert.Empty(t, rawExchange(t, c.Addr().String(), []byte{'x'}))
	assert.Empty(t, rawExchange(t, c.Addr().String(), nil))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("protocol anomaly").Len() == 2
	}, time.Second, 10*time.Millisecond)
	for _, e := range logs.FilterMessage("protocol anomaly").All() {
		assert.Equal(t, zapcore.WarnLevel, e.Level)
	}
	assert.Equal(t, 1, logs.FilterField(zap.String("reason", "unknown opcode")).Len())
}

func TestSlowPeerDoesNotBlockOthers(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 2 * time.Second
	c := startCoordinator(t, provider, cfg)

	// connect and send nothing
	idle, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	defer idle.Close()

	start := time.Now()
	digest := rawExchange(t, c.Addr().String(), []byte{'1'})
	assert.Len(t, digest, protocol.DigestLength)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReadTimeoutClosesIdlePeer(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 100 * time.Millisecond
	c := startCoordinator(t, provider, cfg)

	assert.Empty(t, rawExchange(t, c.Addr().String(), nil))
	assert.EqualValues(t, 1, c.Stats().Rejected)
}

func TestServesSwappedPlan(t *testing.T) {
	provider := newSwapPlan(t, samplePlan(t))
	c := startCoordinator(t, provider, nil)
	before := rawExchange(t, c.Addr().String(), []byte{'1'})

	provider.Set(t, plan.Default())
	after := rawExchange(t, c.Addr().String(), []byte{'1'})

	assert.NotEqual(t, before, after)
	assert.Equal(t, string(provider.Current().Digest), string(after))
}

func TestStartTwiceFails(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)
	assert.Error(t, c.Start(context.Background()))
}

func TestStopClosesListener(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := New(&Config{Address: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second}, provider, nil)
	require.NoError(t, c.Start(context.Background()))
	addr := c.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateStopped, c.State())

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return true
		}
		conn.Close()
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStopDuringConnectionBurst(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := New(&Config{Address: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second}, provider, nil)
	require.NoError(t, c.Start(context.Background()))
	addr := c.Addr().String()

	quit := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-quit:
					return
				default:
				}
				conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
				if err != nil {
					continue
				}
				_ = conn.SetDeadline(time.Now().Add(time.Second))
				_, _ = conn.Write([]byte{'1'})
				_, _ = io.ReadAll(conn)
				conn.Close()
			}
		}()
	}

	require.Eventually(t, func() bool { return c.Stats().DigestRequests > 0 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateStopped, c.State())
	served := c.Stats().DigestRequests

	close(quit)
	wg.Wait()
	assert.Equal(t, served, c.Stats().DigestRequests)
}

func TestStopBeforeStart(t *testing.T) {
	provider, err := NewStaticPlan(samplePlan(t))
	require.NoError(t, err)
	c := New(&Config{Address: "127.0.0.1:0"}, provider, nil)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.State())
}

func TestLoadPlanFromFile(t *testing.T) {
	body, err := plan.Serialize(samplePlan(t))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "attack_plan.json")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	p := LoadPlan(context.Background(), NewFileSource(path), nil)
	assert.Equal(t, samplePlan(t), p)
}

func TestLoadPlanFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"attacks": [{"attack_type": "Noop"`), 0o644))

	tests := []struct {
		name string
		src  Source
	}{
		{"corrupt file", NewFileSource(corrupt)},
		{"missing file", NewFileSource(filepath.Join(dir, "missing.json"))},
		{"unknown kind", writeSource(t, dir, `{"attacks":[{"attack_type":"Bogus","target_ip":"127.0.0.1"}]}`)},
	}
	want, err := plan.Default().Digest()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := LoadPlan(context.Background(), tt.src, nil)
			got, err := p.Digest()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCorruptFileServesDefaultPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attack_plan.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	provider, err := NewStaticPlan(LoadPlan(context.Background(), NewFileSource(path), nil))
	require.NoError(t, err)
	c := startCoordinator(t, provider, nil)

	want, err := plan.Serialize(plan.Default())
	require.NoError(t, err)
	assert.Equal(t, want, rawExchange(t, c.Addr().String(), []byte{'0'}))
}

func writeSource(t *testing.T, dir, content string) *FileSource {
	t.Helper()
	path := filepath.Join(dir, "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewFileSource(path)
}
