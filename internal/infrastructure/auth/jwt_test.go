package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/realtime-auction-backend/internal/domain/user"
)

func testIdentity() *user.Identity {
	return &user.Identity{
		UserID:   uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
		Role:     user.RoleBidder,
		Active:   true,
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret", "openlot")
	id := testIdentity()

	token, err := v.Sign(id, time.Hour, time.Now())
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id.UserID, got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, user.RoleBidder, got.Role)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("test-secret", "openlot")

	token, err := v.Sign(testIdentity(), time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewVerifier("one-secret", "openlot")
	verifier := NewVerifier("other-secret", "openlot")

	token, err := signer.Sign(testIdentity(), time.Hour, time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	signer := NewVerifier("test-secret", "someone-else")
	verifier := NewVerifier("test-secret", "openlot")

	token, err := signer.Sign(testIdentity(), time.Hour, time.Now())
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsInactiveUser(t *testing.T) {
	v := NewVerifier("test-secret", "openlot")
	id := testIdentity()
	id.Active = false

	token, err := v.Sign(id, time.Hour, time.Now())
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsEmptyAndGarbage(t *testing.T) {
	v := NewVerifier("test-secret", "openlot")

	_, err := v.Verify("")
	assert.Error(t, err)

	_, err = v.Verify("not.a.token")
	assert.Error(t, err)
}
