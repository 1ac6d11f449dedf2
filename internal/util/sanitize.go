package util

import (
	"html"
	"strings"
)

// SanitizeInput escapes HTML/script-like characters before a value is stored
// in event details.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// threatPatterns maps substring signatures to the threat tag they indicate.
// Signature order is fixed so DetectThreats is deterministic.
var threatPatterns = []struct {
	tag        string
	signatures []string
}{
	{"sql_injection_attempt", []string{"' or ", "union select", "drop table", "; --", "1=1"}},
	{"xss_attempt", []string{"<script", "onerror=", "onload=", "javascript:"}},
	{"path_traversal_attempt", []string{"../", "..\\", "%2e%2e"}},
	{"command_injection_attempt", []string{"$(", "`", "&&", "||", "; rm "}},
}

// DetectThreats scans a raw payload for known attack signatures and returns
// the matching threat tags, at most one per tag.
func DetectThreats(payload string) []string {
	lowered := strings.ToLower(payload)
	var tags []string
	for _, p := range threatPatterns {
		for _, sig := range p.signatures {
			if strings.Contains(lowered, sig) {
				tags = append(tags, p.tag)
				break
			}
		}
	}
	return tags
}
