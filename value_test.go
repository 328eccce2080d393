package ncp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripValue(t *testing.T, name Identifier, v ParamValue) (ParamValue, int) {
	t.Helper()
	enc, err := encodeValue(nil, name, v)
	require.NoError(t, err)
	require.Zero(t, len(enc)%wordSize, "value encoding must be word-aligned")

	gotName, gotVal, consumed, err := decodeValue(enc)
	require.NoError(t, err)
	require.Equal(t, name, gotName)
	require.Equal(t, len(enc), consumed)
	return gotVal, consumed
}

func TestValueRoundTripI32(t *testing.T) {
	name := MustIdentifier("SAMP")
	v := I32Value(1024)
	got, _ := roundTripValue(t, name, v)
	n, ok := got.I32()
	require.True(t, ok)
	require.Equal(t, int32(1024), n)
}

func TestValueRoundTripI32Negative(t *testing.T) {
	name := MustIdentifier("SAMP")
	v := I32Value(-7)
	got, _ := roundTripValue(t, name, v)
	n, ok := got.I32()
	require.True(t, ok)
	require.Equal(t, int32(-7), n)
}

func TestValueRoundTripU32(t *testing.T) {
	name := MustIdentifier("CNTR")
	v := U32Value(4000000000)
	got, _ := roundTripValue(t, name, v)
	n, ok := got.U32()
	require.True(t, ok)
	require.Equal(t, uint32(4000000000), n)
}

func TestValueRoundTripStr(t *testing.T) {
	name := MustIdentifier("SIW")
	v := StrValue("hello-ncp")
	got, _ := roundTripValue(t, name, v)
	s, ok := got.Str()
	require.True(t, ok)
	require.Equal(t, "hello-ncp", s)
}

func TestValueRoundTripStrEmpty(t *testing.T) {
	name := MustIdentifier("SIW")
	got, _ := roundTripValue(t, name, StrValue(""))
	s, ok := got.Str()
	require.True(t, ok)
	require.Equal(t, "", s)
}

func TestValueRoundTripRaw(t *testing.T) {
	name := MustIdentifier("DATA")
	// already a multiple of 4 bytes, so padding introduces no ambiguity.
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	got, _ := roundTripValue(t, name, RawValue(raw))
	b, ok := got.Raw()
	require.True(t, ok)
	require.Equal(t, raw, b)
}

func TestValueRoundTripArrayI16(t *testing.T) {
	// spec.md §8 scenario 3: PDAT ARRAY_I16([1,2,3,4])
	name := MustIdentifier("PDAT")
	v := ArrayI16Value([]int16{1, 2, 3, 4})
	got, _ := roundTripValue(t, name, v)
	require.Equal(t, 4, got.ArrayLen())
	elems, ok := got.ArrayI16()
	require.True(t, ok)
	require.Equal(t, []int16{1, 2, 3, 4}, elems)
}

func TestValueRoundTripArrayKinds(t *testing.T) {
	name := MustIdentifier("ARR ")

	t.Run("i8", func(t *testing.T) {
		v := ArrayI8Value([]int8{-1, 0, 1, 2})
		got, _ := roundTripValue(t, name, v)
		elems, ok := got.ArrayI8()
		require.True(t, ok)
		require.Equal(t, []int8{-1, 0, 1, 2}, elems)
	})
	t.Run("u8", func(t *testing.T) {
		v := ArrayU8Value([]uint8{0, 1, 2, 255})
		got, _ := roundTripValue(t, name, v)
		elems, ok := got.ArrayU8()
		require.True(t, ok)
		require.Equal(t, []uint8{0, 1, 2, 255}, elems)
	})
	t.Run("u16", func(t *testing.T) {
		v := ArrayU16Value([]uint16{0, 1, 65535, 2})
		got, _ := roundTripValue(t, name, v)
		elems, ok := got.ArrayU16()
		require.True(t, ok)
		require.Equal(t, []uint16{0, 1, 65535, 2}, elems)
	})
	t.Run("i32", func(t *testing.T) {
		v := ArrayI32Value([]int32{-100, 0, 100})
		got, _ := roundTripValue(t, name, v)
		elems, ok := got.ArrayI32()
		require.True(t, ok)
		require.Equal(t, []int32{-100, 0, 100}, elems)
	})
	t.Run("u32", func(t *testing.T) {
		v := ArrayU32Value([]uint32{0, 4000000000})
		got, _ := roundTripValue(t, name, v)
		elems, ok := got.ArrayU32()
		require.True(t, ok)
		require.Equal(t, []uint32{0, 4000000000}, elems)
	})
}

func TestDecodeValueUnknownTag(t *testing.T) {
	name := MustIdentifier("BAD ")
	enc, err := encodeValue(nil, name, I32Value(1))
	require.NoError(t, err)
	// corrupt the type tag byte (low byte of the size/type word, offset 4).
	enc[4] = 0x55
	_, _, _, err = decodeValue(enc)
	require.Error(t, err)
	var malformed *MalformedValue
	require.ErrorAs(t, err, &malformed)
}

func TestDecodeValueArrayMisaligned(t *testing.T) {
	// hand-construct a U16 array whose 3-byte payload (not a multiple of
	// the 2-byte element width) is sent without its padding byte, bypassing
	// the encoder (which never produces this). Sizes are counted in whole
	// words, so the header declares 3 words (12 bytes) while only 11 bytes
	// are present; the decoder must reject the value rather than read past
	// the buffer.
	name := MustIdentifier("ARR ")
	full := append([]byte(nil), name[:]...)
	full = appendUint32(full, 3<<8|uint32(tagArrayBase+byte(ArrayU16)))
	full = append(full, 0x01, 0x02, 0x03) // 3 bytes, width 2 -> misaligned
	_, _, _, err := decodeValue(full)
	require.Error(t, err)
}
