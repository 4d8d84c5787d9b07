package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"yqhp/planfleet/internal/plan"
)

// Client talks to one coordinator. The zero timeouts fall back to defaults.
type Client struct {
	Address     string
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

const (
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 30 * time.Second
)

// NewClient returns a client for the coordinator at address.
func NewClient(address string, dialTimeout, ioTimeout time.Duration) *Client {
	return &Client{Address: address, DialTimeout: dialTimeout, IOTimeout: ioTimeout}
}

// FetchPlan sends OpFetchPlan and reads until the server closes. The payload
// may arrive across many reads.
func (c *Client) FetchPlan(ctx context.Context) ([]byte, error) {
	conn, err := c.exchange(ctx, OpFetchPlan)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	body, err := io.ReadAll(io.LimitReader(conn, MaxPlanSize+1))
	if err != nil {
		return nil, c.connErr(ctx, "read plan", err)
	}
	if len(body) > MaxPlanSize {
		return nil, &ProtocolError{Addr: c.Address, Reason: fmt.Sprintf("plan exceeds %d bytes", MaxPlanSize)}
	}
	if len(body) == 0 {
		return nil, &ProtocolError{Addr: c.Address, Reason: "empty plan response"}
	}
	return body, nil
}

// FetchDigest sends OpFetchDigest and reads exactly DigestLength bytes.
func (c *Client) FetchDigest(ctx context.Context) (plan.Digest, error) {
	conn, err := c.exchange(ctx, OpFetchDigest)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	buf := make([]byte, DigestLength)
	n, err := io.ReadFull(conn, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", &ProtocolError{Addr: c.Address, Reason: fmt.Sprintf("short digest: %d of %d bytes", n, DigestLength)}
		}
		return "", c.connErr(ctx, "read digest", err)
	}

	d, err := plan.ParseDigest(string(buf))
	if err != nil {
		return "", &ProtocolError{Addr: c.Address, Reason: err.Error()}
	}
	return d, nil
}

// exchange dials, arms deadlines and sends the opcode. The connection is
// closed early if ctx ends first.
func (c *Client) exchange(ctx context.Context, op Opcode) (net.Conn, error) {
	dialTimeout := c.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	ioTimeout := c.IOTimeout
	if ioTimeout <= 0 {
		ioTimeout = defaultIOTimeout
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, c.connErr(ctx, "dial", err)
	}

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, c.connErr(ctx, "set deadline", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	if _, err := conn.Write([]byte{byte(op)}); err != nil {
		stop()
		conn.Close()
		return nil, c.connErr(ctx, "write opcode", err)
	}
	return &ctxConn{Conn: conn, stop: stop}, nil
}

func (c *Client) connErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &ConnectionError{Op: op, Addr: c.Address, Err: err}
}

// ctxConn detaches the context watcher on Close.
type ctxConn struct {
	net.Conn
	stop func() bool
}

func (c *ctxConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
