package tokens_test

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-alarms/internal/tokens"
)

func TestViewerToken(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")

	token, err := mgr.GenerateViewerToken("dashboard", []string{"lobby", "gate"}, time.Hour)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.ViewerID)
	assert.Equal(t, tokens.Viewer, claims.TokenType)
	assert.True(t, claims.AllowsCamera("gate"))
	assert.False(t, claims.AllowsCamera("yard"))
	assert.NotEmpty(t, claims.ID)
}

func TestViewerToken_AllCameras(t *testing.T) {
	mgr := tokens.NewManager("k")
	token, err := mgr.GenerateViewerToken("ops", nil, 0)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.AllowsCamera("anything"))
	assert.WithinDuration(t, time.Now().Add(tokens.DefaultViewerTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, err := mgr1.GenerateViewerToken("u1", nil, time.Hour)
	require.NoError(t, err)
	_, err = mgr2.ValidateToken(token)
	assert.True(t, errors.Is(err, tokens.ErrInvalidToken))
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("secret")
	claims := tokens.Claims{
		ViewerID:  "u1",
		TokenType: tokens.Viewer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ts-alarms",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestWrongTokenType(t *testing.T) {
	claims := tokens.Claims{
		ViewerID:         "u1",
		TokenType:        "access",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "ts-alarms"},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = tokens.NewManager("secret").ValidateToken(signed)
	assert.ErrorIs(t, err, tokens.ErrInvalidToken)
}
