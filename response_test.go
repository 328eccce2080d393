package ncp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseOwnsOnlyItsFieldIDs(t *testing.T) {
	r := newResponse(map[uint32]struct{}{5: {}, 6: {}})
	require.True(t, r.owns(5))
	require.True(t, r.owns(6))
	require.False(t, r.owns(7))
}

func TestResponseRecvDeliversEnqueued(t *testing.T) {
	r := newResponse(map[uint32]struct{}{1: {}})
	f := NewField(MustIdentifier("RESP"), MustIdentifier("CTRL"))
	require.True(t, r.enqueue(f))

	got, err := r.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestResponseRecvFieldFiltersByName(t *testing.T) {
	r := newResponse(map[uint32]struct{}{1: {}})
	other := NewField(MustIdentifier("OTHR"), MustIdentifier("CTRL"))
	want := NewField(MustIdentifier("WANT"), MustIdentifier("CTRL"))
	require.True(t, r.enqueue(other))
	require.True(t, r.enqueue(want))

	got, err := r.RecvField(context.Background(), MustIdentifier("WANT"))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResponseCloseIsIdempotentAndTerminal(t *testing.T) {
	r := newResponse(map[uint32]struct{}{1: {}})
	r.Close()
	r.Close() // must not panic

	_, err := r.Recv(context.Background())
	require.Error(t, err)
	var closed *ConnectionClosed
	require.ErrorAs(t, err, &closed)
	require.True(t, closed.Clean)
}

func TestResponseCloseWithFault(t *testing.T) {
	r := newResponse(map[uint32]struct{}{1: {}})
	r.closeWithFault(&NetworkError{Op: "read"})

	_, err := r.Recv(context.Background())
	require.Error(t, err)
	var closed *ConnectionClosed
	require.ErrorAs(t, err, &closed)
	require.False(t, closed.Clean)
}
