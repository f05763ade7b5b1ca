package account

import (
	"context"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is the subset of the scenario context the account steps need.
type TestContext interface {
	POST(path string, body any) error
	Unique(prefix string) string
}

// RegisterSteps registers registration, login and setup steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &accountSteps{tc: tc}

	ctx.Step(`^a new email address "([^"]*)"$`, steps.newEmail)
	ctx.Step(`^I register as "([^"]*)" with name "([^"]*)" and password "([^"]*)"$`, steps.register)
	ctx.Step(`^I register as "([^"]*)" with tier "([^"]*)"$`, steps.registerWithTier)
	ctx.Step(`^I register the same email again$`, steps.registerAgain)
	ctx.Step(`^I log in with password "([^"]*)"$`, steps.login)
	ctx.Step(`^I log in as "([^"]*)" with password "([^"]*)"$`, steps.loginAs)
	ctx.Step(`^I create the initial admin with secret "([^"]*)"$`, steps.bootstrapAdmin)
}

type accountSteps struct {
	tc       TestContext
	email    string
	lastBody map[string]string
}

// newEmail derives a run-unique address from a readable local part.
func (s *accountSteps) newEmail(ctx context.Context, local string) error {
	s.email = strings.ToLower(s.tc.Unique(local)) + "@e2e.example"
	return nil
}

func (s *accountSteps) register(ctx context.Context, role, name, password string) error {
	s.lastBody = map[string]string{"email": s.email, "name": name, "password": password, "role": role}
	return s.tc.POST("/api/auth/register", s.lastBody)
}

func (s *accountSteps) registerWithTier(ctx context.Context, role, tier string) error {
	s.lastBody = map[string]string{"email": s.email, "name": "E2E " + role, "password": "password123", "role": role, "tier": tier}
	return s.tc.POST("/api/auth/register", s.lastBody)
}

func (s *accountSteps) registerAgain(ctx context.Context) error {
	return s.tc.POST("/api/auth/register", s.lastBody)
}

func (s *accountSteps) login(ctx context.Context, password string) error {
	return s.loginAs(ctx, s.email, password)
}

func (s *accountSteps) loginAs(ctx context.Context, email, password string) error {
	return s.tc.POST("/api/auth/login", map[string]string{"email": email, "password": password})
}

func (s *accountSteps) bootstrapAdmin(ctx context.Context, secret string) error {
	return s.tc.POST("/api/setup/initial-admin", map[string]string{
		"email":    s.email,
		"password": "password123",
		"secret":   secret,
	})
}
