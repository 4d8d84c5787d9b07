// Package coordinator serves the authoritative plan and its digest to agents
// over the one-byte request protocol.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"yqhp/planfleet/internal/protocol"
	"yqhp/planfleet/pkg/logger"
)

// Config holds the configuration for a coordinator.
type Config struct {
	// Address is the TCP address to listen on.
	Address string

	// ReadTimeout bounds the wait for the request byte.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing the response.
	WriteTimeout time.Duration

	// StatsInterval logs traffic counters periodically. Zero disables it.
	StatsInterval time.Duration
}

// DefaultConfig returns a default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:9999",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// State represents the lifecycle state of a coordinator.
type State string

const (
	// StateStarting indicates the listener is being opened.
	StateStarting State = "starting"
	// StateRunning indicates connections are being accepted.
	StateRunning State = "running"
	// StateStopping indicates shutdown is in progress.
	StateStopping State = "stopping"
	// StateStopped indicates the coordinator is not serving.
	StateStopped State = "stopped"
)

// Coordinator answers fetch-plan and fetch-digest requests. It never changes
// the plan in response to traffic.
type Coordinator struct {
	config   *Config
	provider PlanProvider
	log      logger.Logger
	stats    Stats

	state     atomic.Value // State
	started   atomic.Bool
	listener  net.Listener
	conns     sync.WaitGroup
	serveDone chan struct{} // closed when the accept loop has returned
	stopOnce  sync.Once
	cancel    context.CancelFunc
	stopped   bool

	mu sync.RWMutex
}

// New creates a coordinator serving provider.
func New(config *Config, provider PlanProvider, log logger.Logger) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		config:    config,
		provider:  provider,
		log:       log,
		serveDone: make(chan struct{}),
	}
	c.state.Store(StateStopped)
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State { return c.state.Load().(State) }

// Stats returns the traffic counters.
func (c *Coordinator) Stats() StatsSnapshot { return c.stats.Snapshot() }

// Provider returns the plan provider.
func (c *Coordinator) Provider() PlanProvider { return c.provider }

// Addr returns the bound address, or nil before Start.
func (c *Coordinator) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Start opens the listener and serves in the background until ctx ends or
// Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already started")
	}
	c.state.Store(StateStarting)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Address)
	if err != nil {
		c.started.Store(false)
		c.state.Store(StateStopped)
		return fmt.Errorf("listen %s: %w", c.config.Address, err)
	}

	ready := make(chan struct{})
	go func() {
		if err := c.serve(ctx, ln, ready); err != nil {
			c.log.Error("coordinator serve failed", zap.Error(err))
		}
	}()
	<-ready
	return nil
}

// Serve accepts connections on ln until ctx ends or Stop is called. Each
// connection is handled on its own goroutine.
func (c *Coordinator) Serve(ctx context.Context, ln net.Listener) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already started")
	}
	return c.serve(ctx, ln, nil)
}

func (c *Coordinator) serve(ctx context.Context, ln net.Listener, ready chan<- struct{}) error {
	defer close(c.serveDone)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.listener = ln
	c.cancel = cancel
	if c.stopped {
		cancel()
	}
	c.mu.Unlock()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	snap := c.provider.Current()
	c.log.Info("coordinator listening",
		zap.String("address", ln.Addr().String()),
		zap.String("digest", snap.Digest.Short()),
		zap.Int("tasks", snap.Tasks),
	)
	if ctx.Err() == nil {
		c.state.Store(StateRunning)
	}
	if ready != nil {
		close(ready)
	}

	if c.config.StatsInterval > 0 {
		go c.statsLoop(ctx)
	}

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			c.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0
		if ctx.Err() != nil {
			conn.Close()
			return nil
		}

		c.conns.Add(1)
		go func() {
			defer c.conns.Done()
			c.handle(conn)
		}()
	}
}

// handle serves exactly one request on conn and closes it.
func (c *Coordinator) handle(conn net.Conn) {
	defer conn.Close()
	c.stats.connections.Add(1)
	peer := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	var req [1]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil {
		c.stats.rejected.Add(1)
		c.log.Warn("protocol anomaly", zap.String("peer", peer), zap.String("reason", "no request byte"), zap.Error(err))
		return
	}

	op := protocol.Opcode(req[0])
	snap := c.provider.Current()
	var payload []byte
	switch op {
	case protocol.OpFetchPlan:
		c.stats.planRequests.Add(1)
		payload = snap.Body
	case protocol.OpFetchDigest:
		c.stats.digestRequests.Add(1)
		payload = []byte(snap.Digest)
	default:
		c.stats.rejected.Add(1)
		c.log.Warn("protocol anomaly", zap.String("peer", peer), zap.String("reason", "unknown opcode"), zap.Uint8("opcode", req[0]))
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if _, err := conn.Write(payload); err != nil {
		c.log.Debug("response write failed", zap.String("peer", peer), zap.String("op", op.String()), zap.Error(err))
		return
	}
	c.log.Debug("request served", zap.String("peer", peer), zap.String("op", op.String()), zap.Int("bytes", len(payload)))
}

// statsLoop logs traffic counters until ctx ends.
func (c *Coordinator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.logStats("coordinator stats")
		}
	}
}

func (c *Coordinator) logStats(msg string) {
	s := c.stats.Snapshot()
	c.log.Info(msg,
		zap.Int64("connections", s.Connections),
		zap.Int64("plan_requests", s.PlanRequests),
		zap.Int64("digest_requests", s.DigestRequests),
		zap.Int64("rejected", s.Rejected),
	)
}

// Stop closes the listener and waits for in-flight connections, bounded by ctx.
// The accept loop has exited before the connection count is awaited, so no
// connection is admitted once the wait begins.
func (c *Coordinator) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.state.Store(StateStopping)

		c.mu.Lock()
		c.stopped = true
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if c.started.Load() {
			select {
			case <-c.serveDone:
			case <-ctx.Done():
				err = fmt.Errorf("waiting for accept loop: %w", ctx.Err())
				c.state.Store(StateStopped)
				return
			}
		}

		done := make(chan struct{})
		go func() {
			c.conns.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for connections: %w", ctx.Err())
		}

		c.logStats("coordinator stopped")
		c.state.Store(StateStopped)
	})
	return err
}
