package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)

	token, err := svc.GenerateToken("producer-1", "sykefravaer-app")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "producer-1", claims.ProducerID)
	assert.Equal(t, "sykefravaer-app", claims.SourceApp)
}

func TestTokenWrongSecretRejected(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).GenerateToken("producer-1", "app")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewJWTService("test-secret", -time.Hour)
	token, err := svc.GenerateToken("producer-1", "app")
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}
