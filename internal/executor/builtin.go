package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/planfleet/internal/plan"
)

const (
	// defaultTimeout 是网络类任务的默认超时时间。
	defaultTimeout = 5 * time.Second
	// defaultSleep 是 Sleep 任务的默认时长。
	defaultSleep = time.Second
)

// NoopExecutor 不做任何事，可选地等待 duration 秒。
type NoopExecutor struct{}

// NewNoopExecutor 创建 Noop 执行器。
func NewNoopExecutor() *NoopExecutor { return &NoopExecutor{} }

// Kind 返回 plan.KindNoop。
func (e *NoopExecutor) Kind() plan.Kind { return plan.KindNoop }

// Execute 等待 duration 参数指定的时长，可被取消。
func (e *NoopExecutor) Execute(ctx context.Context, task *Task) error {
	d, err := task.Spec.DurationParam("duration", 0)
	if err != nil {
		return NewConfigError(e.Kind(), "invalid duration", err)
	}
	return hold(ctx, d)
}

// SleepExecutor 睡眠 duration 秒（默认 1 秒）。
type SleepExecutor struct{}

// NewSleepExecutor 创建 Sleep 执行器。
func NewSleepExecutor() *SleepExecutor { return &SleepExecutor{} }

// Kind 返回 plan.KindSleep。
func (e *SleepExecutor) Kind() plan.Kind { return plan.KindSleep }

// Execute 睡眠指定时长。
func (e *SleepExecutor) Execute(ctx context.Context, task *Task) error {
	d, err := task.Spec.DurationParam("duration", defaultSleep)
	if err != nil {
		return NewConfigError(e.Kind(), "invalid duration", err)
	}
	return hold(ctx, d)
}

// TCPConnectExecutor 建立一次 TCP 连接后立即关闭。
type TCPConnectExecutor struct {
	dialer net.Dialer
}

// NewTCPConnectExecutor 创建 TCPConnect 执行器。
func NewTCPConnectExecutor() *TCPConnectExecutor { return &TCPConnectExecutor{} }

// Kind 返回 plan.KindTCPConnect。
func (e *TCPConnectExecutor) Kind() plan.Kind { return plan.KindTCPConnect }

// Execute 连接 target:port，超时由 timeout 参数控制。
func (e *TCPConnectExecutor) Execute(ctx context.Context, task *Task) error {
	port, err := task.Spec.IntParam("port", 0)
	if err != nil || port <= 0 || port > 65535 {
		return NewConfigError(e.Kind(), fmt.Sprintf("port must be in 1..65535, got %v", task.Spec.Parameters["port"]), err)
	}
	timeout, err := task.Spec.DurationParam("timeout", defaultTimeout)
	if err != nil {
		return NewConfigError(e.Kind(), "invalid timeout", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(task.Spec.Target, strconv.Itoa(port))
	conn, err := e.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return NewTimeoutError(e.Kind(), timeout, err)
		}
		return NewExecutionError(e.Kind(), "connect "+addr, err)
	}
	return conn.Close()
}

// HTTPGetExecutor 发送一次 HTTP GET 请求。
type HTTPGetExecutor struct {
	client *fasthttp.Client
}

// NewHTTPGetExecutor 创建 HTTPGet 执行器。
func NewHTTPGetExecutor() *HTTPGetExecutor {
	return &HTTPGetExecutor{
		client: &fasthttp.Client{
			Name:                "planfleet",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 10 * time.Second,
			ReadTimeout:         30 * time.Second,
			WriteTimeout:        30 * time.Second,
		},
	}
}

// Kind 返回 plan.KindHTTPGet。
func (e *HTTPGetExecutor) Kind() plan.Kind { return plan.KindHTTPGet }

// Execute 请求 scheme://target:port/path，状态码 >= 400 视为失败。
// fasthttp 不感知 ctx，请求时长由 timeout 参数约束。
func (e *HTTPGetExecutor) Execute(ctx context.Context, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	port, err := task.Spec.IntParam("port", 80)
	if err != nil || port <= 0 || port > 65535 {
		return NewConfigError(e.Kind(), fmt.Sprintf("port must be in 1..65535, got %v", task.Spec.Parameters["port"]), err)
	}
	timeout, err := task.Spec.DurationParam("timeout", defaultTimeout)
	if err != nil {
		return NewConfigError(e.Kind(), "invalid timeout", err)
	}
	scheme := task.Spec.StringParam("scheme", "http")
	if scheme != "http" && scheme != "https" {
		return NewConfigError(e.Kind(), "scheme must be http or https, got "+scheme, nil)
	}
	path := task.Spec.StringParam("path", "/")
	if path == "" || path[0] != '/' {
		path = "/" + path
	}

	url := scheme + "://" + net.JoinHostPort(task.Spec.Target, strconv.Itoa(port)) + path

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := e.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return NewTimeoutError(e.Kind(), timeout, err)
		}
		return NewExecutionError(e.Kind(), "GET "+url, err)
	}
	if code := resp.StatusCode(); code >= 400 {
		return NewExecutionError(e.Kind(), fmt.Sprintf("GET %s: status %d", url, code), nil)
	}
	return nil
}
