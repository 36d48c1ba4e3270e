package features

import (
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs every .feature file in this directory against its
// matching step definitions, combined into one suite the way the
// teacher's own features/main_test.go composes its scenario
// initializers.
func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			InitializeRoutingScenario(ctx)
			InitializeCORSScenario(ctx)
			InitializeRewriteScenario(ctx)
			InitializeCookieScenario(ctx)
			InitializeSSEScenario(ctx)
			InitializeWebSocketScenario(ctx)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"."},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
