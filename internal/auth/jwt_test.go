package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	s := NewSigner("secret")
	tok, err := s.Issue("D1", RoleDriver, time.Hour)
	require.NoError(t, err)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "D1", c.Subject)
	assert.Equal(t, RoleDriver, c.Role)

	ctx := WithClaims(context.Background(), c)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestParseRejectsBadTokens(t *testing.T) {
	s := NewSigner("secret")

	other, err := NewSigner("other").Issue("D1", RoleDriver, time.Hour)
	require.NoError(t, err)
	_, err = s.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := s.Issue("D1", RoleDriver, -time.Minute)
	require.NoError(t, err)
	_, err = s.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
