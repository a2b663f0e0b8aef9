package session

import "testing"

func TestSessionIDFromEventsTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"session:abc-123:events", "abc-123"},
		{"session::events", ""},
		{"scoring:abc-123", ""},
		{"session:abc:other", ""},
		{"garbage", ""},
	}
	for _, tt := range tests {
		if got := sessionIDFromEventsTopic(tt.topic); got != tt.want {
			t.Fatalf("sessionIDFromEventsTopic(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
