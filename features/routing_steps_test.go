package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"

	"github.com/johnjansen/marlin/report"
	"github.com/johnjansen/marlin/router"
	"github.com/johnjansen/marlin/site"
)

// RoutingSuite drives the site registry / router dispatch scenarios.
type RoutingSuite struct {
	reg       *site.Registry
	rt        *router.Router
	refs      map[string]site.Ref
	prefixes  map[string]string
	dispatch  string
	w         *httptest.ResponseRecorder
	deleteErr error
}

func (rs *RoutingSuite) reset() {
	rs.reg = site.NewRegistry()
	rs.rt = router.New(80, rs.reg, report.New(report.Options{AlertsDir: "/tmp/marlin-features-alerts"}))
	rs.refs = map[string]site.Ref{}
	rs.prefixes = map[string]string{}
	rs.dispatch = ""
	rs.w = nil
	rs.deleteErr = nil
}

func (rs *RoutingSuite) siteRegisteredAndStartedAtPrefix(name, prefix string) error {
	ref, err := rs.reg.CreateSite(site.KindNamed, false, 80, prefix, false)
	if err != nil {
		return err
	}
	if err := rs.reg.StartSite(ref); err != nil {
		return err
	}
	rs.refs[name] = ref
	rs.prefixes[name] = prefix
	rs.wireHandler(name, ref)
	return nil
}

func (rs *RoutingSuite) siteRegisteredAndStartedAtPrefixAsSubsiteOf(name, prefix, _parent string) error {
	ref, err := rs.reg.CreateSite(site.KindNamed, false, 80, prefix, true)
	if err != nil {
		return err
	}
	if err := rs.reg.StartSite(ref); err != nil {
		return err
	}
	rs.refs[name] = ref
	rs.prefixes[name] = prefix
	rs.wireHandler(name, ref)
	return nil
}

func (rs *RoutingSuite) wireHandler(name string, ref site.Ref) {
	s := rs.reg.Site(ref)
	siteName := name
	s.AddHandler(http.MethodGet, func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		w.Header().Set("X-Dispatched-Site", siteName)
		w.WriteHeader(http.StatusOK)
		return site.UpgradeNone
	})
}

func (rs *RoutingSuite) iGET(path string) error {
	rs.w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	rs.rt.ServeHTTP(rs.w, r)
	rs.dispatch = rs.w.Header().Get("X-Dispatched-Site")
	return nil
}

func (rs *RoutingSuite) theRequestIsDispatchedToSite(name string) error {
	if rs.dispatch != name {
		return fmt.Errorf("expected dispatch to %q, got %q (status %d)", name, rs.dispatch, rs.w.Code)
	}
	return nil
}

func (rs *RoutingSuite) iDeleteSite(name string) error {
	rs.deleteErr = rs.reg.DeleteSite(80, rs.prefixes[name])
	return nil
}

func (rs *RoutingSuite) deletingFailsWith(kind string) error {
	if rs.deleteErr == nil {
		return fmt.Errorf("expected delete to fail with %s, got nil error", kind)
	}
	if !strings.Contains(rs.deleteErr.Error(), kind) {
		return fmt.Errorf("expected error to mention %s, got %q", kind, rs.deleteErr.Error())
	}
	return nil
}

// InitializeRoutingScenario registers the sub-site dispatch steps.
func InitializeRoutingScenario(ctx *godog.ScenarioContext) {
	rs := &RoutingSuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		rs.reset()
		return gctx, nil
	})

	ctx.Step(`^site "([^"]*)" is registered and started at prefix "([^"]*)"$`, rs.siteRegisteredAndStartedAtPrefix)
	ctx.Step(`^site "([^"]*)" is registered and started at prefix "([^"]*)" as a subsite of "([^"]*)"$`, rs.siteRegisteredAndStartedAtPrefixAsSubsiteOf)
	ctx.Step(`^I GET "([^"]*)"$`, rs.iGET)
	ctx.Step(`^the request is dispatched to site "([^"]*)"$`, rs.theRequestIsDispatchedToSite)
	ctx.Step(`^I delete site "([^"]*)"$`, rs.iDeleteSite)
	ctx.Step(`^deleting fails with "([^"]*)"$`, rs.deletingFailsWith)
}
