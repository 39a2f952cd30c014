package models

import (
	"strings"
	"time"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds until a denied caller may retry
}

// ExceededResponse is the body written with a 429.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// Key builds a bucket key from a scope and an identifier. Colons inside the
// identifier are escaped so an IPv6 address cannot spill into another segment.
func Key(scope, identifier string) string {
	return "rl:" + scope + ":" + strings.ReplaceAll(identifier, ":", "_")
}
