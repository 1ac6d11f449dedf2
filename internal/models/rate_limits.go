package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Decision is the outcome of a rate-limit check. It is always produced, even
// when the shared counter store is unreachable (the limiter fails open).
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Count      int           `json:"count"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // set when denied

	// Marker identifies the counter entry added by this check so a caller
	// can later discount it (e.g. a successful login should not count
	// toward the failed-attempts budget).
	Marker string `json:"-"`

	// Fallback is true when the decision came from the per-process
	// fallback counter rather than the shared store. Under fallback the
	// effective limit is per-instance, not global.
	Fallback bool `json:"fallback,omitempty"`

	// BurstExceeded is true when the short burst window tripped the denial.
	BurstExceeded bool `json:"burst_exceeded,omitempty"`
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-\[\]]+$`)

// ValidateRateLimitKey rejects malformed namespace/identifier pairs.
func ValidateRateLimitKey(namespace, identifier string) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("rate limit namespace is required")
	}
	if strings.TrimSpace(identifier) == "" {
		return fmt.Errorf("rate limit identifier is required")
	}
	if !identifierPattern.MatchString(identifier) {
		return fmt.Errorf("invalid rate limit identifier: %q", identifier)
	}
	return nil
}
