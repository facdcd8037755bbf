package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRefreshToken(t *testing.T) {
	id := uuid.New().String()

	t.Run("valid token", func(t *testing.T) {
		gotID, secret, ok := splitRefreshToken(id + ".deadbeef")
		require.True(t, ok)
		assert.Equal(t, id, gotID)
		assert.Equal(t, "deadbeef", secret)
	})

	t.Run("secret may contain dots", func(t *testing.T) {
		_, secret, ok := splitRefreshToken(id + ".a.b")
		require.True(t, ok)
		assert.Equal(t, "a.b", secret)
	})

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no separator", id},
		{"empty id", ".secret"},
		{"empty secret", id + "."},
		{"id not a uuid", "not-a-uuid.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := splitRefreshToken(tt.raw)
			assert.False(t, ok)
		})
	}
}
