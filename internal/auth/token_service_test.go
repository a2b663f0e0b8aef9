package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/quizline/quizline-backend/internal/config"
)

func service(secret string, expiry time.Duration) *TokenService {
	return NewTokenService(&config.Config{JWTSecret: secret, JWTExpiry: expiry})
}

func TestParticipantTokenRoundTrip(t *testing.T) {
	s := service("secret-a", time.Hour)

	token, err := s.GenerateParticipantToken("sess-1", "p1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TokenType != TokenTypeParticipant {
		t.Fatalf("type = %s", claims.TokenType)
	}
	if claims.SessionID != "sess-1" || claims.Subject != "p1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("token must carry a JTI")
	}
}

func TestControllerTokenType(t *testing.T) {
	s := service("secret-a", time.Hour)
	token, err := s.GenerateControllerToken("sess-1", "owner-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TokenType != TokenTypeController {
		t.Fatalf("type = %s", claims.TokenType)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := service("secret-a", time.Hour).GenerateParticipantToken("sess-1", "p1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := service("secret-b", time.Hour).ValidateToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	token, err := service("secret-a", -time.Minute).GenerateParticipantToken("sess-1", "p1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := service("secret-a", time.Hour).ValidateToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	if _, err := service("secret-a", time.Hour).ValidateToken("not.a.token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}
