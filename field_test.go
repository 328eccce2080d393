package ncp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldRoundTripEmpty(t *testing.T) {
	f := NewField(MustIdentifier("HELO"), MustIdentifier("CTRL"))
	f.ID = 7

	enc, err := encodeField(nil, f)
	require.NoError(t, err)
	require.Zero(t, len(enc)%wordSize)

	got, consumed, err := decodeField(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), consumed)
	require.Equal(t, f.Name, got.Name)
	require.Equal(t, f.TypeID, got.TypeID)
	require.Equal(t, f.ID, got.ID)
	require.Equal(t, 0, got.Params.Len())
}

func TestFieldRoundTripWithParams(t *testing.T) {
	f := NewField(MustIdentifier("SAMP"), MustIdentifier("DATA"))
	f.ID = 42
	require.NoError(t, f.Params.Add(MustIdentifier("VAL "), I32Value(9001)))
	require.NoError(t, f.Params.Add(MustIdentifier("TAG "), StrValue("ncp")))

	enc, err := encodeField(nil, f)
	require.NoError(t, err)

	got, consumed, err := decodeField(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), consumed)
	require.Equal(t, 2, got.Params.Len())

	// insertion order must survive the wire round trip.
	require.Equal(t, []Identifier{MustIdentifier("VAL "), MustIdentifier("TAG ")}, got.Params.Names())

	v, ok := got.Params.Get(MustIdentifier("VAL "))
	require.True(t, ok)
	n, ok := v.I32()
	require.True(t, ok)
	require.Equal(t, int32(9001), n)

	tag, ok := got.Params.Get(MustIdentifier("TAG "))
	require.True(t, ok)
	s, ok := tag.Str()
	require.True(t, ok)
	require.Equal(t, "ncp", s)
}

func TestParamMapRejectsDuplicates(t *testing.T) {
	p := NewParamMap()
	require.NoError(t, p.Add(MustIdentifier("X"), I32Value(1)))
	err := p.Add(MustIdentifier("X"), I32Value(2))
	require.Error(t, err)
	var malformed *MalformedField
	require.ErrorAs(t, err, &malformed)
}

func TestDecodeFieldTruncated(t *testing.T) {
	f := NewField(MustIdentifier("SAMP"), MustIdentifier("DATA"))
	require.NoError(t, f.Params.Add(MustIdentifier("VAL "), I32Value(1)))
	enc, err := encodeField(nil, f)
	require.NoError(t, err)

	_, _, err = decodeField(enc[:len(enc)-wordSize])
	require.Error(t, err)
}

func TestFieldReplyWithoutConnection(t *testing.T) {
	f := NewField(MustIdentifier("LINK"), MustIdentifier("CTRL"))
	err := f.Reply(MustIdentifier("RESP"), NewField(MustIdentifier("ACKN"), MustIdentifier("CTRL")))
	require.Error(t, err)
	var closed *ConnectionClosed
	require.ErrorAs(t, err, &closed)
	require.True(t, closed.Clean)
}
