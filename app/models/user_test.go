package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAPIKey(t *testing.T) {
	u := &User{ID: 7}

	raw, err := u.IssueAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "tl_"))
	assert.Equal(t, HashAPIKey(raw), u.APIKeyHash)
	assert.Len(t, u.APIKeyHash, 64)
	assert.Equal(t, raw[:16], u.APIKeyPrefix)
	assert.NotNil(t, u.APIKeyCreatedAt)
	assert.Nil(t, u.APIKeyLastUsedAt)
}

func TestIssueAPIKeyRotates(t *testing.T) {
	u := &User{ID: 7}

	first, err := u.IssueAPIKey()
	require.NoError(t, err)
	second, err := u.IssueAPIKey()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, HashAPIKey(second), u.APIKeyHash)
}

func TestHashAPIKeyTrimsWhitespace(t *testing.T) {
	assert.Equal(t, HashAPIKey("tl_abc"), HashAPIKey("  tl_abc \n"))
	assert.NotEqual(t, HashAPIKey("tl_abc"), HashAPIKey("tl_abd"))
}
