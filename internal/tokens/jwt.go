package tokens

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrCameraDenied = errors.New("camera not allowed by token")
)

type TokenType string

const (
	// Viewer tokens grant read access to the live feed and status API.
	Viewer TokenType = "viewer"

	DefaultViewerTTL = 12 * time.Hour
	issuer           = "ts-alarms"
)

type Claims struct {
	ViewerID  string    `json:"sub"`
	TokenType TokenType `json:"token_type"`
	// Cameras restricts the feed to these camera ids; empty means all.
	Cameras []string `json:"cameras,omitempty"`
	jwt.RegisteredClaims
}

// AllowsCamera reports whether the token may watch cameraID.
func (c *Claims) AllowsCamera(cameraID string) bool {
	return len(c.Cameras) == 0 || slices.Contains(c.Cameras, cameraID)
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateViewerToken signs a viewer token for subject limited to cameras.
func (m *Manager) GenerateViewerToken(subject string, cameras []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultViewerTTL
	}
	now := time.Now().UTC()
	claims := Claims{
		ViewerID:  subject,
		TokenType: Viewer,
		Cameras:   cameras,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != Viewer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
