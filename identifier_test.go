package ncp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"exact four chars", "LINK", "LINK", false},
		{"short pads with spaces", "AB", "AB", false},
		{"empty", "", "", false},
		{"digits and spaces allowed", "A1 9", "A1 9", false},
		{"too long", "TOOLONG", "", true},
		{"lowercase rejected", "abcd", "", true},
		{"punctuation rejected", "AB-C", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := NewIdentifier(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *InvalidIdentifier
				require.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id.String())
		})
	}
}

func TestIdentifierRawEquality(t *testing.T) {
	a := MustIdentifier("AB")
	b, err := NewIdentifier("AB  ")
	require.NoError(t, err)
	assert.Equal(t, a, b, "the padded raw form is the canonical equality key")
}

func TestMustIdentifierPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustIdentifier("bad-id") })
}
