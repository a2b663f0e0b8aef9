package session

import (
	"strings"
	"testing"
)

func TestGenerateJoinCodeFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateJoinCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != joinCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(joinCodeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// 200 draws from a 36^6 space should essentially never collide.
	if len(seen) < 199 {
		t.Fatalf("only %d distinct codes out of 200", len(seen))
	}
}
