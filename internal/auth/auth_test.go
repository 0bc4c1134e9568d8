package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService("")
	assert.Error(t, err)

	svc, err := NewService("s3cret")
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestMintVerifyRoundtrip(t *testing.T) {
	svc, err := NewService("s3cret")
	require.NoError(t, err)

	token, err := svc.Mint(&domain.User{ID: 42, Username: "alice", Role: "trader"})
	require.NoError(t, err)

	p, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.UserID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "trader", p.Role)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc, err := NewService("s3cret")
	require.NoError(t, err)

	_, err = svc.Verify("not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter, err := NewService("secret-a")
	require.NoError(t, err)
	verifier, err := NewService("secret-b")
	require.NoError(t, err)

	token, err := minter.Mint(&domain.User{ID: 1, Username: "bob"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword("not-a-hash", "hunter22"))
}
