// Package auth provides JWT minting/verification for agent access tokens and
// helpers for agent public keys and signatures.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/moltnet/diaryd/internal/common"
)

// Claims carries the standard registered claims plus the agent's identity ID.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string
}

// GenerateToken mints an HS256 access token for agentID.
func GenerateToken(agentID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		AgentID: agentID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetAgentIDFromToken verifies tokenString and returns the embedded agent ID.
func GetAgentIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", common.ErrInvalidToken
	}

	if !token.Valid {
		return "", common.ErrInvalidToken
	}

	return claims.AgentID, nil
}
