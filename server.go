package ncp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServerOption configures Serve: the address to listen on, optional TLS,
// the per-connection handshake deadline, and the connection-level
// ConnOptions new connections are built with. Generalizes the teacher's
// NewServer(address, tc) to the spec's richer option surface.
type ServerOption struct {
	address          string
	tc               *tls.Config
	handshakeTimeout time.Duration
	conn             *ConnOptions
}

// NewServerOption returns a ServerOption listening on address.
func NewServerOption(address string) *ServerOption {
	return &ServerOption{
		address:          address,
		handshakeTimeout: DefaultHandshakeTimeout,
		conn:             DefaultConnOptions(),
	}
}

func (o *ServerOption) SetTLS(tc *tls.Config) *ServerOption {
	o.tc = tc
	return o
}

func (o *ServerOption) SetHandshakeTimeout(timeout time.Duration) *ServerOption {
	o.handshakeTimeout = timeout
	return o
}

// Conn exposes the embedded ConnOptions for fluent configuration.
func (o *ServerOption) Conn() *ConnOptions { return o.conn }

// Handler is invoked once per accepted, handshaken Connection. Handler
// should not return until it is done with conn; the server waits for every
// in-flight Handler call to return before Serve returns.
type Handler func(conn *Connection)

// Server accepts NCP peers, one goroutine per connection, mirroring the
// teacher's accept loop (server.go) but tracked with an errgroup so Serve
// waits for every in-flight handler to unwind before returning (see
// DESIGN.md).
type Server struct {
	option   *ServerOption
	listener net.Listener

	closeOnce sync.Once
}

// NewServer returns a Server configured by option.
func NewServer(option *ServerOption) *Server {
	return &Server{option: option}
}

func (s *Server) listen() error {
	var listener net.Listener
	var err error
	if s.option.tc != nil {
		listener, err = tls.Listen("tcp", s.option.address, s.option.tc)
	} else {
		listener, err = net.Listen("tcp", s.option.address)
	}
	if err != nil {
		return &NetworkError{Op: "listen", Err: err}
	}
	s.listener = listener
	_lg.Debugf("ncp: server listening at %s", s.option.address)
	return nil
}

// Serve accepts connections until the listener is closed (via Close),
// handshaking each one and invoking handler. One client's handshake
// failure or handler panic does not affect any other.
func (s *Server) Serve(handler Handler) error {
	if err := s.listen(); err != nil {
		return err
	}
	defer s.listener.Close()

	var g errgroup.Group
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			break
		}
		g.Go(func() error {
			s.serveOne(conn, handler)
			return nil
		})
	}
	return g.Wait()
}

// Close stops accepting new connections; in-flight handlers are left to
// finish on their own. Idempotent.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

func (s *Server) serveOne(conn net.Conn, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			_lg.Errorf("ncp: handler panic for %s: %v", conn.RemoteAddr(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.option.handshakeTimeout)
	defer cancel()

	nc, err := dialAndHandshake(ctx, conn, s.option.conn, roleServer)
	if err != nil {
		_lg.WithError(err).Warnf("ncp: handshake failed for %s", conn.RemoteAddr())
		return
	}
	_lg.Debugf("ncp: accepted connection from %s", conn.RemoteAddr())
	handler(nc)
}
