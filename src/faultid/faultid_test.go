package faultid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Spellings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"165", "0x0165"},
		{"0x165", "0x0165"},
		{"0X0165", "0x0165"},
		{"0x0165", "0x0165"},
		{"  0165 ", "0x0165"},
		{"0xabc", "0x0ABC"},
		{"ABC", "0x0ABC"},
		{"0x0", "0x0000"},
		{"1F2E3", "0x1F2E3"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"165", "0x165", "0X0165", "7", "0xFFFF", "00001", "0xdeadbeef"}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err, in)
		twice, err := Normalize(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice, "normalize(normalize(%q))", in)
	}
}

func TestNormalize_SameLogicalIDAgrees(t *testing.T) {
	spellings := []string{"165", "0x165", "0X0165", "000165", "0x00000165"}
	want := MustParse("0x0165")
	for _, s := range spellings {
		id, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, id, s)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "0x", "xyz", "12g", "0x123456789", "-1"} {
		_, err := Parse(in)
		assert.True(t, errors.Is(err, ErrInvalid), "Parse(%q) err = %v", in, err)
	}
}

func TestID_Digits(t *testing.T) {
	assert.Equal(t, "165", MustParse("0x0165").Digits())
	assert.Equal(t, "0", MustParse("0").Digits())
	assert.Equal(t, "", ID{}.String())
}
