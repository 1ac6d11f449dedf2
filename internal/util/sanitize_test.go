package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "&lt;script&gt;", SanitizeInput("  <script>  "))
	assert.Equal(t, "plain", SanitizeInput("plain"))
}

func TestDetectThreats(t *testing.T) {
	tests := []struct {
		payload string
		want    []string
	}{
		{"id=1 UNION SELECT password FROM users", []string{"sql_injection_attempt"}},
		{"<script>alert(1)</script>", []string{"xss_attempt"}},
		{"../../etc/passwd", []string{"path_traversal_attempt"}},
		{"$(cat /etc/shadow)", []string{"command_injection_attempt"}},
		{"hello world", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectThreats(tt.payload), "payload %q", tt.payload)
	}
}

func TestDetectThreatsIsDeterministicAndDeduplicated(t *testing.T) {
	payload := "' or 1=1; -- union select <script> ../"
	first := DetectThreats(payload)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DetectThreats(payload))
	}

	// One tag per category even with multiple matching signatures.
	assert.Equal(t, []string{"sql_injection_attempt", "xss_attempt", "path_traversal_attempt"}, first)
}
