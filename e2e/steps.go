package e2e

import (
	"github.com/cucumber/godog"

	"ttkn/e2e/steps/common"
	"ttkn/e2e/steps/ledger"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, status and field assertions)
	common.RegisterSteps(ctx, tc)

	// Register ledger-specific steps
	ledger.RegisterSteps(ctx, tc)
}
