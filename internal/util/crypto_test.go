package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		token1, _ := GenerateToken()
		token2, _ := GenerateToken()
		assert.NotEqual(t, token1, token2)
	})

	t.Run("generates valid hex", func(t *testing.T) {
		token, _ := GenerateToken()
		for _, c := range token {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
		}
	})
}

func TestHashToken(t *testing.T) {
	t.Run("returns 64 character hex string", func(t *testing.T) {
		hash := HashToken("test-token")
		assert.Len(t, hash, 64)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		hash1 := HashToken("test-token")
		hash2 := HashToken("test-token")
		assert.Equal(t, hash1, hash2)
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		hash1 := HashToken("token-1")
		hash2 := HashToken("token-2")
		assert.NotEqual(t, hash1, hash2)
	})
}

func TestMaskHex(t *testing.T) {
	assert.Equal(t, "0x1234...cdef", MaskHex("0x1234567890abcdef"))
	assert.Equal(t, "0x12", MaskHex("0x12"))
}

func TestValidation(t *testing.T) {
	t.Run("bytes32 hex", func(t *testing.T) {
		assert.True(t, IsBytes32Hex("0x"+strings.Repeat("ab", 32)))
		assert.False(t, IsBytes32Hex(strings.Repeat("ab", 32)))
		assert.False(t, IsBytes32Hex("0x1234"))
	})

	t.Run("enum", func(t *testing.T) {
		assert.True(t, IsValidEnum("active", []string{"active", "revoked"}))
		assert.True(t, IsValidEnum("", []string{"active"}))
		assert.False(t, IsValidEnum("paired", []string{"active"}))
	})
}
