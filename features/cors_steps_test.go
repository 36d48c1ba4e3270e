package features

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"github.com/johnjansen/marlin/site"
)

// CORSSuite drives the CORS guard scenarios against a bare registry,
// one site per scenario.
type CORSSuite struct {
	reg      *site.Registry
	ref      site.Ref
	startErr error
}

func (cs *CORSSuite) reset() {
	cs.reg = site.NewRegistry()
	cs.startErr = nil
}

func (cs *CORSSuite) aSiteConfiguredWithAllowOriginAndAllowCredentials(origin, credentials string) error {
	ref, err := cs.reg.CreateSite(site.KindNamed, false, 81, "/marlin/", false)
	if err != nil {
		return err
	}
	s := cs.reg.Site(ref)
	s.Headers.CORS.AllowOrigin = []string{origin}
	s.Headers.CORS.AllowCredentials = credentials == "true"
	cs.ref = ref
	return nil
}

func (cs *CORSSuite) iStartTheSite() error {
	cs.startErr = cs.reg.StartSite(cs.ref)
	return nil
}

func (cs *CORSSuite) startingFailsWith(kind string) error {
	if cs.startErr == nil {
		return fmt.Errorf("expected start to fail with %s, got nil error", kind)
	}
	if !strings.Contains(cs.startErr.Error(), kind) {
		return fmt.Errorf("expected error to mention %s, got %q", kind, cs.startErr.Error())
	}
	return nil
}

func (cs *CORSSuite) startingSucceeds() error {
	if cs.startErr != nil {
		return fmt.Errorf("expected start to succeed, got %v", cs.startErr)
	}
	return nil
}

// InitializeCORSScenario registers the CORS guard steps.
func InitializeCORSScenario(ctx *godog.ScenarioContext) {
	cs := &CORSSuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		cs.reset()
		return gctx, nil
	})

	ctx.Step(`^a site configured with AllowOrigin "([^"]*)" and AllowCredentials (true|false)$`, cs.aSiteConfiguredWithAllowOriginAndAllowCredentials)
	ctx.Step(`^I start the site$`, cs.iStartTheSite)
	ctx.Step(`^starting fails with "([^"]*)"$`, cs.startingFailsWith)
	ctx.Step(`^starting succeeds$`, cs.startingSucceeds)
}
