package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		expected string
	}{
		{
			name:     "typical address",
			email:    "alice@example.com",
			expected: "a****@*******.com",
		},
		{
			name:     "single character username",
			email:    "a@example.com",
			expected: "a@*******.com",
		},
		{
			name:     "multi-level domain",
			email:    "bob@mail.example.co",
			expected: "b**@****.*******.co",
		},
		{
			name:     "missing at sign",
			email:    "not-an-email",
			expected: "[invalid-email]",
		},
		{
			name:     "multiple at signs",
			email:    "a@b@c.com",
			expected: "[invalid-email]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizedEmail(tt.email))
		})
	}
}

func TestRedactedAttr(t *testing.T) {
	attr := RedactedAttr("session_token", "raw-value", "production")
	assert.Equal(t, "[REDACTED]", attr.Value.String())

	attr = RedactedAttr("session_token", "raw-value", "development")
	assert.Equal(t, "raw-value", attr.Value.String())
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc123"))
	assert.True(t, SanitizeQueryString("redirect=/login&PASSWORD=x"))
	assert.True(t, SanitizeQueryString("api_key=secret"))
	assert.False(t, SanitizeQueryString("page=2&limit=50"))
	assert.False(t, SanitizeQueryString(""))
}
