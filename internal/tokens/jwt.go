package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// PlaybackTTL bounds how long a signed playback URL stays usable.
const PlaybackTTL = 10 * time.Minute

// Claims scope a playback token to one stream within one organization.
type Claims struct {
	OrgID    string `json:"org_id"`
	StreamID string `json:"stream_id"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// IssuePlayback signs a short-lived token granting playback of a
// single stream.
func (m *Manager) IssuePlayback(userID, orgID, streamID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		OrgID:    orgID,
		StreamID: streamID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(PlaybackTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

// Validate checks signature and expiry and, when streamID is non-empty,
// that the token was issued for that stream.
func (m *Manager) Validate(tokenString, streamID string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if streamID != "" && claims.StreamID != streamID {
		return nil, fmt.Errorf("%w: token not valid for stream %s", ErrInvalidToken, streamID)
	}
	return claims, nil
}
