// Package jwtauth issues and validates the bearer tokens used by platform
// collaborators calling the audit API.
package jwtauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"custos/pkg/sentinel"
)

// Claims carries the actor identity asserted by the token.
type Claims struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and validates HS256 tokens.
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
}

// New builds a token service.
func New(signingKey, issuer, audience string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Generate signs a token for an actor. Used by provisioning tooling and
// tests; the server itself only validates.
func (s *Service) Generate(actorID, actorRole, sessionID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ActorID:   actorID,
		ActorRole: actorRole,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and checks a token, returning its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", sentinel.ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid claims", sentinel.ErrUnauthorized)
	}
	if claims.ActorID == "" {
		return nil, fmt.Errorf("%w: token carries no actor", sentinel.ErrUnauthorized)
	}
	return claims, nil
}
