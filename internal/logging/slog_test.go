package logging

import (
	"strings"
	"testing"
)

func TestAnonymizeUser(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "google subject", id: "108201234567890123456"},
		{name: "email style", id: "user@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnonymizeUser(tt.id)

			if !strings.HasPrefix(got, "user:") {
				t.Errorf("AnonymizeUser() = %s, want user: prefix", got)
			}
			if strings.Contains(got, tt.id) {
				t.Errorf("AnonymizeUser() leaked the raw identifier: %s", got)
			}
			// Hashing must be stable for log correlation
			if again := AnonymizeUser(tt.id); again != got {
				t.Errorf("AnonymizeUser() not stable: %s != %s", got, again)
			}
		})
	}
}

func TestAnonymizeUser_Empty(t *testing.T) {
	if got := AnonymizeUser(""); got != "" {
		t.Errorf("AnonymizeUser(\"\") = %s, want empty", got)
	}
}

func TestSanitizeToken(t *testing.T) {
	token := "gsc_abcdef0123456789"
	got := SanitizeToken(token)

	if strings.Contains(got, "abcdef") {
		t.Errorf("SanitizeToken() leaked token content: %s", got)
	}
	if got != "[token:20 chars]" {
		t.Errorf("SanitizeToken() = %s, want [token:20 chars]", got)
	}

	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("SanitizeToken(\"\") = %s, want <empty>", got)
	}
}
