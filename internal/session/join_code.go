package session

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/quizline/quizline-backend/internal/store"
)

// Join codes are 6 uppercase alphanumeric characters.
const (
	joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	joinCodeLength   = 6
	joinCodeAttempts = 10
)

// GenerateJoinCode produces a random 6-character join code.
func GenerateJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// reserveUniqueJoinCode generates codes until one is unclaimed. The
// space is 36^6 so collisions are rare; the attempt cap only guards
// against a wedged store.
func reserveUniqueJoinCode(ctx context.Context, st store.SessionStore, sessionID string) (string, error) {
	for i := 0; i < joinCodeAttempts; i++ {
		code, err := GenerateJoinCode()
		if err != nil {
			return "", err
		}
		ok, err := st.ReserveJoinCode(ctx, code, sessionID)
		if err != nil {
			return "", err
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("reserve join code: exhausted %d attempts", joinCodeAttempts)
}
