package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomain_DomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	a := HashWithDomain(DomainFingerprint, data)
	b := HashWithDomain(DomainEvidence, data)
	assert.NotEqual(t, a, b, "same bytes under different domains must not collide")
}

func TestHashWithDomain_BoundaryUnambiguous(t *testing.T) {
	// Without the null separator these two would hash identically.
	a := HashWithDomain("ab", []byte("c"))
	b := HashWithDomain("a", []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestHashCanonical_Deterministic(t *testing.T) {
	v := map[string]any{"units": 12, "revenue": 38.5, "machine": "M-3"}
	first, err := HashCanonical(DomainEvidence, v)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := HashCanonical(DomainEvidence, v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Len(t, first, 64)
}

func TestHashCanonical_PropagatesMarshalError(t *testing.T) {
	_, err := HashCanonical(DomainEvidence, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
