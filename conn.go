package ncp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type connRole int

const (
	roleClient connRole = iota
	roleServer
)

type handshakeState int32

const (
	stateUnauth handshakeState = iota
	stateAuthed
	stateClosed
)

// Well-known handshake identifiers, spec.md §6.
var (
	linkType = MustIdentifier("LINK")
	heloName = MustIdentifier("HELO")
	ccreName = MustIdentifier("CCRE")
	scarName = MustIdentifier("SCAR")
	careName = MustIdentifier("CARE")
	sconName = MustIdentifier("SCON")
	ciwName  = MustIdentifier("CIW")
	siwName  = MustIdentifier("SIW")
	carName  = MustIdentifier("CAR")
	sidnName = MustIdentifier("SIDN")

	erroName = MustIdentifier("ERRO")
	errcName = MustIdentifier("ERRC")
	warnName = MustIdentifier("WARN")
	warcName = MustIdentifier("WARC")
	acknName = MustIdentifier("ACKN")
)

// cannedAuthResponse and serverChallenge are the fixed handshake strings
// this library's peers recognize each other with. The handshake is a
// version/compatibility greeting, not a cryptographic challenge: the CARE
// response never actually depends on the SCAR challenge contents (spec.md
// §4.F: "the library carries a well-known response string").
const (
	cannedAuthResponse = "NCPLIB-AUTH-1"
	serverChallenge    = "NCPLIB-CHALLENGE-1"
)

/*
Connection is a per-peer state machine wrapping one transport: send,
receive, demux, and handshake. See spec.md §4.F.
*/
type Connection struct {
	conn   net.Conn
	opts   *ConnOptions
	reader *StreamReader

	writeMu sync.Mutex
	nextID  uint32

	mu        sync.Mutex
	state     handshakeState
	responses map[uint32]*Response
	primary   *fieldQueue

	closeOnce  sync.Once
	readerDone chan struct{}
}

func newConnection(conn net.Conn, opts *ConnOptions) *Connection {
	if opts == nil {
		opts = DefaultConnOptions()
	}
	if opts.remoteHostname == "" {
		opts.remoteHostname = conn.LocalAddr().String()
	}
	return &Connection{
		conn:       conn,
		opts:       opts,
		reader:     NewStreamReader(conn),
		responses:  make(map[uint32]*Response),
		primary:    newFieldQueue(),
		readerDone: make(chan struct{}),
	}
}

// dialAndHandshake performs the role-appropriate handshake synchronously
// (subject to ctx's deadline) and, on success, starts the connection's
// reader goroutine. On failure the transport is closed and never starts.
func dialAndHandshake(ctx context.Context, conn net.Conn, opts *ConnOptions, role connRole) (*Connection, error) {
	c := newConnection(conn, opts)
	if err := c.runHandshake(ctx, role); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Connection) runHandshake(ctx context.Context, role connRole) error {
	if !c.opts.autoAuth {
		c.setState(stateAuthed)
		return nil
	}
	var err error
	if role == roleClient {
		err = c.clientHandshake(ctx)
	} else {
		err = c.serverHandshake(ctx)
	}
	if err != nil {
		c.setState(stateClosed)
		return err
	}
	c.setState(stateAuthed)
	return nil
}

func (c *Connection) setState(s handshakeState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

// --- handshake ---

func (c *Connection) clientHandshake(ctx context.Context) error {
	f, err := c.handshakeReadField(ctx)
	if err != nil {
		return &AuthenticationError{Reason: "waiting for hello", Err: err}
	}
	if f.PacketType != linkType || f.Name != heloName {
		return &AuthenticationError{Reason: "expected LINK/HELO"}
	}
	_lg.Debug("ncp: received server hello")

	ccre := NewParamMap()
	_ = ccre.Add(ciwName, StrValue(c.opts.remoteHostname))
	if err := c.handshakeWriteField(linkType, &Field{Name: ccreName, TypeID: ccreName, Params: ccre}); err != nil {
		return &AuthenticationError{Reason: "sending CCRE", Err: err}
	}

	f, err = c.handshakeReadField(ctx)
	if err != nil {
		return &AuthenticationError{Reason: "waiting for challenge", Err: err}
	}
	if f.PacketType != linkType || f.Name != scarName {
		return &AuthenticationError{Reason: "expected LINK/SCAR"}
	}

	care := NewParamMap()
	_ = care.Add(carName, StrValue(cannedAuthResponse))
	if err := c.handshakeWriteField(linkType, &Field{Name: careName, TypeID: careName, Params: care}); err != nil {
		return &AuthenticationError{Reason: "sending CARE", Err: err}
	}

	f, err = c.handshakeReadField(ctx)
	if err != nil {
		return &AuthenticationError{Reason: "waiting for confirmation", Err: err}
	}
	if f.PacketType != linkType || f.Name != sconName {
		return &AuthenticationError{Reason: "expected LINK/SCON"}
	}
	_lg.Debug("ncp: client handshake complete")
	return nil
}

func (c *Connection) serverHandshake(ctx context.Context) error {
	helo := NewParamMap()
	_ = helo.Add(sidnName, StrValue(c.opts.remoteHostname))
	if err := c.handshakeWriteField(linkType, &Field{Name: heloName, TypeID: heloName, Params: helo}); err != nil {
		return &AuthenticationError{Reason: "sending HELO", Err: err}
	}

	f, err := c.handshakeReadField(ctx)
	if err != nil {
		return &AuthenticationError{Reason: "waiting for CCRE", Err: err}
	}
	if f.PacketType != linkType || f.Name != ccreName {
		return &AuthenticationError{Reason: "expected LINK/CCRE"}
	}

	scar := NewParamMap()
	_ = scar.Add(siwName, StrValue(serverChallenge))
	if err := c.handshakeWriteField(linkType, &Field{Name: scarName, TypeID: scarName, Params: scar}); err != nil {
		return &AuthenticationError{Reason: "sending SCAR", Err: err}
	}

	f, err = c.handshakeReadField(ctx)
	if err != nil {
		return &AuthenticationError{Reason: "waiting for CARE", Err: err}
	}
	if f.PacketType != linkType || f.Name != careName {
		return &AuthenticationError{Reason: "expected LINK/CARE"}
	}
	carVal, ok := f.Params.Get(carName)
	resp, _ := carVal.Str()
	if !ok || resp != cannedAuthResponse {
		return &AuthenticationError{Reason: "challenge response mismatch"}
	}

	if err := c.handshakeWriteField(linkType, &Field{Name: sconName, TypeID: sconName, Params: NewParamMap()}); err != nil {
		return &AuthenticationError{Reason: "sending SCON", Err: err}
	}
	_lg.Debug("ncp: server handshake complete")
	return nil
}

// handshakeWriteField writes a single-field packet directly, bypassing
// response tracking (the reader goroutine is not running yet).
func (c *Connection) handshakeWriteField(packetType Identifier, f *Field) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	f.ID = atomic.AddUint32(&c.nextID, 1)
	f.conn = c
	pkt := &Packet{Type: packetType, ID: f.ID, Timestamp: TimestampFromTime(time.Now()), Fields: []*Field{f}}
	return c.writePacketLocked(pkt)
}

// handshakeReadField reads one field directly from the stream reader,
// cancellable by ctx.
func (c *Connection) handshakeReadField(ctx context.Context) (*Field, error) {
	type result struct {
		f   *Field
		p   *Packet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, p, err := c.reader.Next()
		ch <- result{f, p, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		r.f.PacketType = r.p.Type
		r.f.PacketID = r.p.ID
		r.f.Timestamp = r.p.Timestamp
		r.f.conn = c
		return r.f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- send ---

// Send encodes a single-field packet and returns a Response bound to the
// allocated field id.
func (c *Connection) Send(packetType, fieldName Identifier, params *ParamMap) (*Response, error) {
	if params == nil {
		params = NewParamMap()
	}
	f := &Field{Name: fieldName, TypeID: fieldName, Params: params}
	return c.SendPacket(packetType, []*Field{f})
}

// SendPacket encodes a multi-field packet and returns a Response bound to
// the full set of allocated field ids.
func (c *Connection) SendPacket(packetType Identifier, fields []*Field) (*Response, error) {
	if len(fields) == 0 {
		return nil, &MalformedPacket{Reason: "send with no fields"}
	}
	if c.isClosed() {
		return nil, &ConnectionClosed{Clean: true}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return nil, &ConnectionClosed{Clean: true}
	}

	ids := make(map[uint32]struct{}, len(fields))
	for _, f := range fields {
		f.ID = atomic.AddUint32(&c.nextID, 1)
		f.conn = c
		ids[f.ID] = struct{}{}
	}
	pkt := &Packet{
		Type:      packetType,
		ID:        fields[0].ID,
		Timestamp: TimestampFromTime(time.Now()),
		Fields:    fields,
	}

	resp := newResponse(ids)
	c.mu.Lock()
	for id := range ids {
		c.responses[id] = resp
	}
	c.mu.Unlock()

	if err := c.writePacketLocked(pkt); err != nil {
		c.mu.Lock()
		for id := range ids {
			delete(c.responses, id)
		}
		c.mu.Unlock()
		resp.closeWithFault(err)
		return nil, err
	}
	return resp, nil
}

// sendReply sends a single-field packet whose packet id is replyToFieldID,
// per spec.md §6's reply-correlation rule. Used by Field.Reply.
func (c *Connection) sendReply(packetType Identifier, replyToFieldID uint32, field *Field) error {
	if c.isClosed() {
		return &ConnectionClosed{Clean: true}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return &ConnectionClosed{Clean: true}
	}
	field.ID = atomic.AddUint32(&c.nextID, 1)
	field.conn = c
	pkt := &Packet{
		Type:      packetType,
		ID:        replyToFieldID,
		Timestamp: TimestampFromTime(time.Now()),
		Fields:    []*Field{field},
	}
	return c.writePacketLocked(pkt)
}

func (c *Connection) replyKeepalive() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return
	}
	field := &Field{Name: linkType, TypeID: linkType, Params: NewParamMap()}
	field.ID = atomic.AddUint32(&c.nextID, 1)
	field.conn = c
	pkt := &Packet{Type: linkType, ID: field.ID, Timestamp: TimestampFromTime(time.Now()), Fields: []*Field{field}}
	if err := c.writePacketLocked(pkt); err != nil {
		_lg.WithError(err).Warn("ncp: keep-alive reply failed")
	}
}

// writePacketLocked requires writeMu to already be held.
func (c *Connection) writePacketLocked(pkt *Packet) error {
	b, err := encodePacket(pkt)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(b); err != nil {
		werr := &NetworkError{Op: "write", Err: err}
		go c.closeFault(werr)
		return werr
	}
	return nil
}

// --- receive ---

// Recv waits for the next inbound field that was not captured by any active
// Response and was not auto-consumed by the demux filters.
func (c *Connection) Recv(ctx context.Context) (*Field, error) {
	return c.primary.recv(ctx)
}

// RecvField waits for the next inbound field named name on the primary
// stream. If packetType is non-nil, only fields from matching packets
// qualify.
func (c *Connection) RecvField(ctx context.Context, packetType *Identifier, name Identifier) (*Field, error) {
	if packetType != nil {
		return c.primary.recvNamed(ctx, *packetType, name, true)
	}
	return c.primary.recvNamed(ctx, Identifier{}, name, false)
}

// --- demux ---

func (c *Connection) readLoop() {
	defer close(c.readerDone)
	for {
		f, pkt, err := c.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.closeClean()
			} else {
				c.closeFault(&NetworkError{Op: "read", Err: err})
			}
			return
		}
		f.PacketType = pkt.Type
		f.PacketID = pkt.ID
		f.Timestamp = pkt.Timestamp
		f.conn = c
		c.demux(f)
	}
}

func (c *Connection) demux(f *Field) {
	if f.PacketType == linkType && f.Name == linkType {
		_lg.Debug("ncp: received keep-alive")
		c.replyKeepalive()
		return
	}

	if c.opts.autoErro {
		if errVal, ok := f.Params.Get(erroName); ok {
			if codeVal, ok := f.Params.Get(errcName); ok {
				if code, _ := codeVal.I32(); code != 0 {
					detail, _ := errVal.Str()
					cmdErr := &CommandError{
						Code:       code,
						Detail:     detail,
						PacketType: f.PacketType.String(),
						FieldName:  f.Name.String(),
					}
					c.deliverError(f.PacketID, cmdErr)
					return
				}
			}
		}
	}

	if c.opts.autoWarn {
		if warnVal, ok := f.Params.Get(warnName); ok {
			var code int32
			if codeVal, ok := f.Params.Get(warcName); ok {
				code, _ = codeVal.I32()
			}
			detail, _ := warnVal.Str()
			w := &CommandWarning{
				Code:       code,
				Detail:     detail,
				PacketType: f.PacketType.String(),
				FieldName:  f.Name.String(),
			}
			if c.opts.warnSink != nil {
				c.opts.warnSink(w)
			} else {
				_lg.WithFields(logrus.Fields{
					"packet_type": w.PacketType,
					"field_name":  w.FieldName,
					"code":        w.Code,
				}).Warn(w.Detail)
			}
			return
		}
	}

	if c.opts.autoAckn {
		if _, ok := f.Params.Get(acknName); ok {
			return
		}
	}

	c.route(f)
}

func (c *Connection) route(f *Field) {
	c.mu.Lock()
	resp, ok := c.responses[f.PacketID]
	c.mu.Unlock()
	if ok {
		resp.enqueue(f)
		return
	}
	c.primary.enqueue(f)
}

func (c *Connection) deliverError(packetID uint32, err error) {
	c.mu.Lock()
	resp, ok := c.responses[packetID]
	c.mu.Unlock()
	if ok {
		resp.queue.deliverError(err)
		return
	}
	c.primary.deliverError(err)
}

// --- close ---

// Close shuts the connection down: it cancels all pending awaits with a
// clean end-of-stream, closes the transport, and waits for the reader
// goroutine to exit. It does not wait for an in-flight write to finish;
// closing the transport makes such a write fail. Idempotent.
func (c *Connection) Close() error {
	c.doClose(nil, true)
	<-c.readerDone
	return nil
}

// WaitClosed blocks until the connection's reader goroutine has exited.
func (c *Connection) WaitClosed() {
	<-c.readerDone
}

func (c *Connection) closeClean() { c.doClose(io.EOF, false) }
func (c *Connection) closeFault(err error) {
	_lg.WithError(err).Error("ncp: connection faulted")
	c.doClose(err, false)
}

func (c *Connection) doClose(err error, callerInitiated bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		responses := make([]*Response, 0, len(c.responses))
		for _, r := range c.responses {
			responses = append(responses, r)
		}
		c.mu.Unlock()

		if callerInitiated {
			c.primary.close()
			for _, r := range responses {
				r.Close()
			}
		} else {
			c.primary.closeWithFault(err)
			for _, r := range responses {
				r.closeWithFault(err)
			}
		}
		_ = c.conn.Close()
	})
}
