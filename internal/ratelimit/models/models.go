// Package models holds the rate limiting value types shared by the bucket
// stores and the HTTP middleware.
package models

import (
	"strings"
	"time"

	"splitvault/pkg/domain"
)

// Limit is a sliding-window quota.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the 429 body.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// SanitizeKeySegment escapes the key delimiter so a client-supplied segment
// cannot address a neighbouring bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewCallerKey buckets requests by authenticated identity.
func NewCallerKey(caller domain.Identity) string {
	return "ratelimit:caller:" + caller.String()
}

// NewIPKey buckets requests that carry no identity by client address.
func NewIPKey(ip string) string {
	return "ratelimit:ip:" + SanitizeKeySegment(ip)
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, never
// below one.
func RetryAfterSeconds(resetAt, now time.Time) int {
	wait := resetAt.Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
