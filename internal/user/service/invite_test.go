package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInviteCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := newInviteCode()
		require.NoError(t, err)

		assert.Len(t, code, inviteCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(inviteCodeAlphabet, r), "unexpected character %q", r)
		}
		seen[code] = true
	}

	// 100 draws from a 31^10 space must not collide.
	assert.Len(t, seen, 100)
}

func TestInviteCodeAlphabetAvoidsAmbiguousGlyphs(t *testing.T) {
	for _, r := range "0O1IL" {
		assert.False(t, strings.ContainsRune(inviteCodeAlphabet, r), "ambiguous character %q", r)
	}
}
