package models

import (
	"fmt"
	"time"
)

// EndpointClass groups routes that share one request budget.
type EndpointClass string

const (
	// ClassAuth covers the unauthenticated account routes: register, activate,
	// login, verify-login and initial admin setup.
	ClassAuth EndpointClass = "auth"
)

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is only set when the request was refused.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum one.
func (r *Result) RetryAfterSeconds() int {
	secs := int((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// IPKey is the bucket key for one client address within a class.
func IPKey(class EndpointClass, ip string) string {
	return fmt.Sprintf("rl:%s:ip:%s", class, ip)
}
