// Package auth issues and validates the JWT session tokens that
// participants and controllers present on reconnect.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/quizline/quizline-backend/internal/config"
)

// Common token errors.
var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenType distinguishes participant vs controller tokens.
type TokenType string

const (
	TokenTypeParticipant TokenType = "participant"
	TokenTypeController  TokenType = "controller"
)

// Claims extends JWT standard claims with session fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	SessionID string    `json:"session_id"`
}

// TokenService signs and validates session tokens.
type TokenService struct {
	cfg *config.Config
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg *config.Config) *TokenService {
	return &TokenService{cfg: cfg}
}

// GenerateParticipantToken creates a session token for a joined
// participant. The token is the reconnection credential; its subject is
// the participant ID.
func (s *TokenService) GenerateParticipantToken(sessionID, participantID string) (string, error) {
	return s.generate(TokenTypeParticipant, sessionID, participantID)
}

// GenerateControllerToken creates a token for the session owner.
func (s *TokenService) GenerateControllerToken(sessionID, ownerID string) (string, error) {
	return s.generate(TokenTypeController, sessionID, ownerID)
}

func (s *TokenService) generate(tt TokenType, sessionID, subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType: tt,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (s *TokenService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
