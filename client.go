package ncp

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// ClientOption configures Dial: the address to reach, optional TLS, the
// connect-and-handshake deadline, and the connection-level ConnOptions.
// Generalizes the teacher's client_option.go fluent builder.
type ClientOption struct {
	address string
	tc      *tls.Config
	timeout time.Duration
	conn    *ConnOptions
}

// NewClientOption returns a ClientOption for address ("host:port"), with
// the spec's default ConnOptions and DefaultHandshakeTimeout.
func NewClientOption(address string) *ClientOption {
	return &ClientOption{
		address: address,
		timeout: DefaultHandshakeTimeout,
		conn:    DefaultConnOptions(),
	}
}

// SetConnectTimeout bounds dial + handshake. Non-positive values disable
// the timeout (infinite), matching spec.md §5's "infinite by default" only
// when the caller explicitly asks for it.
func (o *ClientOption) SetConnectTimeout(timeout time.Duration) *ClientOption {
	o.timeout = timeout
	return o
}

// SetTLS enables TLS for the dial.
func (o *ClientOption) SetTLS(tc *tls.Config) *ClientOption {
	o.tc = tc
	return o
}

// Conn exposes the embedded ConnOptions for fluent configuration, e.g.
// NewClientOption(addr).Conn().SetAutoWarn(false).
func (o *ClientOption) Conn() *ConnOptions { return o.conn }

// Client dials a single NCP peer.
type Client struct {
	option *ClientOption
}

// NewClient returns a Client configured by option.
func NewClient(option *ClientOption) *Client {
	return &Client{option: option}
}

// Dial connects to the configured address, runs the client-side handshake
// (unless auto_auth is off), and returns a ready-to-use Connection. If ctx
// carries no deadline and the option's connect timeout is positive, that
// timeout is applied.
func (c *Client) Dial(ctx context.Context) (*Connection, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.option.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.option.timeout)
		defer cancel()
	}

	var d net.Dialer
	var conn net.Conn
	var err error
	if c.option.tc != nil {
		td := &tls.Dialer{NetDialer: &d, Config: c.option.tc}
		conn, err = td.DialContext(ctx, "tcp", c.option.address)
	} else {
		conn, err = d.DialContext(ctx, "tcp", c.option.address)
	}
	if err != nil {
		return nil, &NetworkError{Op: "dial", Err: err}
	}

	return dialAndHandshake(ctx, conn, c.option.conn, roleClient)
}

// Dial is a convenience wrapper around NewClient(NewClientOption(address)).Dial(ctx).
func Dial(ctx context.Context, address string) (*Connection, error) {
	return NewClient(NewClientOption(address)).Dial(ctx)
}
