package executor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/planfleet/internal/plan"
)

func taskFor(t *testing.T, kind plan.Kind, target string, params map[string]any) *Task {
	t.Helper()
	spec, err := plan.NewTaskSpec(kind, target, params, nil)
	require.NoError(t, err)
	return &Task{Spec: spec}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestNoopExecutor(t *testing.T) {
	e := NewNoopExecutor()
	assert.Equal(t, plan.KindNoop, e.Kind())

	require.NoError(t, e.Execute(context.Background(), taskFor(t, plan.KindNoop, "h", nil)))

	start := time.Now()
	require.NoError(t, e.Execute(context.Background(), taskFor(t, plan.KindNoop, "h", map[string]any{"duration": 0.05})))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	err := e.Execute(context.Background(), taskFor(t, plan.KindNoop, "h", map[string]any{"duration": "soon"}))
	assert.True(t, IsConfigError(err))
}

func TestSleepExecutor_Cancel(t *testing.T) {
	e := NewSleepExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Execute(ctx, taskFor(t, plan.KindSleep, "h", map[string]any{"duration": 10}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTCPConnectExecutor(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, port := splitHostPort(t, ln.Addr().String())
	e := NewTCPConnectExecutor()

	err = e.Execute(context.Background(), taskFor(t, plan.KindTCPConnect, host, map[string]any{"port": port, "timeout": 1}))
	assert.NoError(t, err)
}

func TestTCPConnectExecutor_Errors(t *testing.T) {
	e := NewTCPConnectExecutor()

	err := e.Execute(context.Background(), taskFor(t, plan.KindTCPConnect, "127.0.0.1", nil))
	assert.True(t, IsConfigError(err))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitHostPort(t, ln.Addr().String())
	ln.Close()

	err = e.Execute(context.Background(), taskFor(t, plan.KindTCPConnect, host, map[string]any{"port": port, "timeout": 1}))
	require.Error(t, err)
	var execErr *ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, plan.KindTCPConnect, execErr.Kind)
}

func TestHTTPGetExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.Listener.Addr().String())
	e := NewHTTPGetExecutor()

	err := e.Execute(context.Background(), taskFor(t, plan.KindHTTPGet, host, map[string]any{"port": port, "path": "/ok", "timeout": 2}))
	assert.NoError(t, err)

	err = e.Execute(context.Background(), taskFor(t, plan.KindHTTPGet, host, map[string]any{"port": port, "path": "fail", "timeout": 2}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	err = e.Execute(context.Background(), taskFor(t, plan.KindHTTPGet, host, map[string]any{"port": port, "scheme": "gopher"}))
	assert.True(t, IsConfigError(err))
}

func TestHTTPGetExecutor_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewHTTPGetExecutor().Execute(ctx, taskFor(t, plan.KindHTTPGet, "127.0.0.1", nil))
	assert.ErrorIs(t, err, context.Canceled)
}
