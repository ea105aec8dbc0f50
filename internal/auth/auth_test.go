package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/model"
)

func newManager(t *testing.T, expiration time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("", "", expiration)
	require.NoError(t, err)
	return m
}

func TestIssueAndValidateToken(t *testing.T) {
	m := newManager(t, time.Hour)

	token, exp, err := m.IssueToken("alice", model.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, exp.After(time.Now()))

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, model.RoleOperator, claims.Role)
	assert.Equal(t, "breachline", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	m := newManager(t, -time.Minute)

	token, _, err := m.IssueToken("alice", model.RoleAdmin)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenFromOtherKey(t *testing.T) {
	m1 := newManager(t, time.Hour)
	m2 := newManager(t, time.Hour)

	token, _, err := m1.IssueToken("alice", model.RoleAdmin)
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateGarbageToken(t *testing.T) {
	m := newManager(t, time.Hour)
	_, err := m.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestValidateUnknownRole(t *testing.T) {
	m := newManager(t, time.Hour)

	token, _, err := m.IssueToken("alice", model.UserRole("superuser"))
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := HashAPIKey("sk-test-key")
	require.NoError(t, err)
	assert.NotContains(t, hash, "sk-test-key")

	ok, err := VerifyAPIKey("sk-test-key", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAPIKeyMalformedHash(t *testing.T) {
	_, err := VerifyAPIKey("key", "no-separator")
	assert.Error(t, err)
}

func TestHashIsSalted(t *testing.T) {
	h1, err := HashAPIKey("same-key")
	require.NoError(t, err)
	h2, err := HashAPIKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
