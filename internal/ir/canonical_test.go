package ir

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `null`},
		{"true", true, `true`},
		{"false", false, `false`},
		{"int", 42, `42`},
		{"int64", int64(-7), `-7`},
		{"string", "hello", `"hello"`},
		{"float", 1.5, `1.5`},
		{"integral float", 4.0, `4`},
		{"json number int", json.Number("12"), `12`},
		{"json number float", json.Number("12.25"), `12.25`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MarshalCanonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestMarshalCanonical_IntegralFloatMatchesInt(t *testing.T) {
	// The same logical value may arrive as int (from Go code) or float64
	// (from a JSON decode). Both must hash identically.
	a, err := MarshalCanonical(map[string]any{"qty": 4})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]any{"qty": 4.0})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalCanonical_RejectsNonFiniteFloats(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := MarshalCanonical(f)
		assert.Error(t, err)
	}
}

func TestMarshalCanonical_KeysSorted(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra":  1,
		"apple":  2,
		"mantis": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":2,"mantis":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_MapOrderIndependent(t *testing.T) {
	// Two maps with the same entries must serialize identically however Go
	// happens to iterate them. Repeat to exercise map ordering randomness.
	for i := 0; i < 20; i++ {
		a, err := MarshalCanonical(map[string]any{"x": 1, "y": 2, "z": 3, "w": 4})
		require.NoError(t, err)
		b, err := MarshalCanonical(map[string]any{"w": 4, "z": 3, "y": 2, "x": 1})
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b))
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<a>&</a>")
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// "é" as a single code point vs e + combining acute accent.
	composed := "café"
	decomposed := "café"
	a, err := MarshalCanonical(composed)
	require.NoError(t, err)
	b, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"list": []any{1, "two", nil, map[string]any{"b": 2, "a": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1,"two",null,{"a":1,"b":2}]}`, string(got))
}

func TestMarshalCanonical_UnsupportedType(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}
