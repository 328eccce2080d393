package ncp

import (
	"context"
	"sync"
)

// queueDepth bounds every inbound field queue (the primary stream and each
// Response). The reader goroutine blocks pushing past this depth, which is
// the connection's only source of read-side backpressure (spec.md §5).
const queueDepth = 64

// fieldQueue is a bounded FIFO of inbound fields with "queued through"
// name-filtered reads, shared by the Connection's primary stream and every
// Response (spec.md §4.F/§4.G share the same consumption discipline).
type fieldQueue struct {
	fields chan *Field
	errs   chan error

	mu      sync.Mutex
	pending []*Field

	done     chan struct{}
	closeErr error
	once     sync.Once
}

func newFieldQueue() *fieldQueue {
	return &fieldQueue{
		fields: make(chan *Field, queueDepth),
		errs:   make(chan error, queueDepth),
		done:   make(chan struct{}),
	}
}

// enqueue pushes f, blocking for backpressure until there is room or the
// queue closes. It reports whether f was accepted.
func (q *fieldQueue) enqueue(f *Field) bool {
	select {
	case q.fields <- f:
		return true
	case <-q.done:
		return false
	}
}

// deliverError pushes a CommandError (or similar) to be returned by the
// next recv/recvNamed call, without closing the queue. It reports whether
// err was accepted.
func (q *fieldQueue) deliverError(err error) bool {
	select {
	case q.errs <- err:
		return true
	case <-q.done:
		return false
	}
}

// recv waits for the next field, taking first any field that recvNamed set
// aside. Cancelling ctx does not discard a field: a field is only taken off
// the queue when it is returned.
func (q *fieldQueue) recv(ctx context.Context) (*Field, error) {
	if f, ok := q.popPending(); ok {
		return f, nil
	}
	select {
	case f, ok := <-q.fields:
		if !ok {
			return nil, q.terminalError()
		}
		return f, nil
	case err, ok := <-q.errs:
		if !ok {
			return nil, q.terminalError()
		}
		return nil, err
	case <-q.done:
		return nil, q.terminalError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recvNamed waits for the next field whose Name matches name and, when
// filterType is true, whose PacketType also matches packetType.
// Non-matching fields are queued through for later recv/recvNamed calls.
func (q *fieldQueue) recvNamed(ctx context.Context, packetType, name Identifier, filterType bool) (*Field, error) {
	matches := func(f *Field) bool {
		if filterType && f.PacketType != packetType {
			return false
		}
		return f.Name == name
	}

	if f, ok := q.takePendingMatching(matches); ok {
		return f, nil
	}
	for {
		select {
		case f, ok := <-q.fields:
			if !ok {
				return nil, q.terminalError()
			}
			if matches(f) {
				return f, nil
			}
			q.mu.Lock()
			q.pending = append(q.pending, f)
			q.mu.Unlock()
		case err, ok := <-q.errs:
			if !ok {
				return nil, q.terminalError()
			}
			return nil, err
		case <-q.done:
			return nil, q.terminalError()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *fieldQueue) popPending() (*Field, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	f := q.pending[0]
	q.pending = q.pending[1:]
	return f, true
}

func (q *fieldQueue) takePendingMatching(match func(*Field) bool) (*Field, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, f := range q.pending {
		if match(f) {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			return f, true
		}
	}
	return nil, false
}

// close releases any pending/future recv calls with a clean end-of-stream.
// Idempotent.
func (q *fieldQueue) close() {
	q.once.Do(func() {
		close(q.done)
	})
}

// closeWithFault releases awaiters with a non-clean ConnectionClosed
// wrapping err.
func (q *fieldQueue) closeWithFault(err error) {
	q.once.Do(func() {
		q.closeErr = err
		close(q.done)
	})
}

func (q *fieldQueue) terminalError() error {
	return &ConnectionClosed{Clean: q.closeErr == nil, Err: q.closeErr}
}
