package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceRoundTrip(t *testing.T) {
	svc := NewJWTServiceWithIssuer([]byte("secret"), "syslogcore", "admin")

	token, err := svc.GenerateToken("operator", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", parsed.Subject())
}

func TestJWTServiceRejectsWrongSecret(t *testing.T) {
	signer := NewJWTService([]byte("correct-secret"))
	verifier := NewJWTService([]byte("wrong-secret"))

	token, err := signer.GenerateToken("operator", time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	svc := NewJWTService([]byte("secret"))
	token, err := svc.GenerateToken("operator", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTServiceEnabled(t *testing.T) {
	assert.False(t, (&JWTService{}).Enabled())
	assert.True(t, NewJWTService([]byte("x")).Enabled())
}
