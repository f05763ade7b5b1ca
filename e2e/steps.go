package e2e

import (
	"github.com/cucumber/godog"

	"bluecarbon/e2e/steps/account"
	"bluecarbon/e2e/steps/common"
	"bluecarbon/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions from the step packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	account.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}
