package ncp

import "strings"

// IdentifierLength is the fixed wire width of an Identifier: four bytes,
// each in [A-Z0-9 ], right-padded with spaces.
const IdentifierLength = 4

/*
Identifier is a 4-ASCII-character tag used for packet types, field names,
and parameter names (e.g. "LINK", "DSPC", "TIME"). The raw four-byte form,
space-padded, is the canonical equality key; String strips trailing spaces
for display.
*/
type Identifier [IdentifierLength]byte

// NewIdentifier validates and right-pads s into an Identifier. Inputs
// longer than IdentifierLength, or containing any byte outside
// [A-Z0-9 ], are rejected.
func NewIdentifier(s string) (Identifier, error) {
	var id Identifier
	if len(s) > IdentifierLength {
		return id, &InvalidIdentifier{Value: s}
	}
	for i := 0; i < IdentifierLength; i++ {
		if i < len(s) {
			b := s[i]
			if !validIdentifierByte(b) {
				return Identifier{}, &InvalidIdentifier{Value: s}
			}
			id[i] = b
		} else {
			id[i] = ' '
		}
	}
	return id, nil
}

// MustIdentifier panics on an invalid identifier; used for compile-time
// constant identifiers known to be valid (e.g. handshake field names).
func MustIdentifier(s string) Identifier {
	id, err := NewIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

func validIdentifierByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == ' ':
		return true
	default:
		return false
	}
}

// String returns the canonical display form: the raw bytes with trailing
// spaces stripped.
func (id Identifier) String() string {
	return strings.TrimRight(string(id[:]), " ")
}

// Bytes returns the raw four-byte wire representation.
func (id Identifier) Bytes() [IdentifierLength]byte {
	return id
}

func identifierFromBytes(b []byte) (Identifier, error) {
	var id Identifier
	if len(b) < IdentifierLength {
		return id, &MalformedField{Reason: "short identifier"}
	}
	for i := 0; i < IdentifierLength; i++ {
		if !validIdentifierByte(b[i]) {
			return Identifier{}, &MalformedField{Reason: "invalid identifier byte"}
		}
		id[i] = b[i]
	}
	return id, nil
}
