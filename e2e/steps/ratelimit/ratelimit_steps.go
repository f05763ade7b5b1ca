package ratelimit

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario context the throttling steps need.
type TestContext interface {
	POST(path string, body any) error
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers steps that exhaust and probe the auth budget.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I attempt (\d+) logins for "([^"]*)"$`, steps.attemptLogins)
	ctx.Step(`^every attempt before the limit should return (\d+)$`, steps.attemptsBeforeLimit)
	ctx.Step(`^some attempt should return (\d+)$`, steps.someAttemptReturned)
}

type ratelimitSteps struct {
	tc       TestContext
	statuses []int
}

func (s *ratelimitSteps) attemptLogins(ctx context.Context, n int, email string) error {
	s.statuses = s.statuses[:0]
	for range n {
		if err := s.tc.POST("/api/auth/login", map[string]string{"email": email, "password": "wrong-password"}); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) attemptsBeforeLimit(ctx context.Context, want int) error {
	for i, got := range s.statuses {
		if got == 429 {
			return nil
		}
		if got != want {
			return fmt.Errorf("attempt %d returned %d, expected %d", i+1, got, want)
		}
	}
	return nil
}

func (s *ratelimitSteps) someAttemptReturned(ctx context.Context, want int) error {
	for _, got := range s.statuses {
		if got == want {
			return nil
		}
	}
	return fmt.Errorf("no attempt returned %d (statuses %v, last body %s)", want, s.statuses, s.tc.GetLastResponseBody())
}
