package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := NewAPIKey()
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(key, "gsc_"))
		// 32 bytes base64url without padding is 43 characters
		assert.Len(t, key, len("gsc_")+43)
		assert.False(t, seen[key], "duplicate key generated")
		seen[key] = true
	}
}

func TestNewStateNonce(t *testing.T) {
	a, err := NewStateNonce()
	require.NoError(t, err)
	b, err := NewStateNonce()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
