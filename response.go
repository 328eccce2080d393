package ncp

import "context"

/*
Response is the consumer handle returned by Connection.Send and
Connection.SendPacket: it is bound to the outbound field id(s) of that one
send call and receives every inbound field whose packet acknowledges one of
those ids (spec.md §3/§4.G).
*/
type Response struct {
	ids   map[uint32]struct{}
	queue *fieldQueue
}

func newResponse(ids map[uint32]struct{}) *Response {
	return &Response{ids: ids, queue: newFieldQueue()}
}

// owns reports whether replyID is one of this Response's outbound field ids.
func (r *Response) owns(replyID uint32) bool {
	_, ok := r.ids[replyID]
	return ok
}

func (r *Response) enqueue(f *Field) bool { return r.queue.enqueue(f) }

// Recv waits for the next inbound field on this Response.
func (r *Response) Recv(ctx context.Context) (*Field, error) {
	return r.queue.recv(ctx)
}

// RecvField waits for the next inbound field named name, regardless of
// packet type. Non-matching fields are queued through for later calls.
func (r *Response) RecvField(ctx context.Context, name Identifier) (*Field, error) {
	return r.queue.recvNamed(ctx, Identifier{}, name, false)
}

// Close releases any pending/future Recv and RecvField calls with a clean
// end-of-stream. Idempotent.
func (r *Response) Close() { r.queue.close() }

func (r *Response) closeWithFault(err error) { r.queue.closeWithFault(err) }
