package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/cucumber/godog"

	"github.com/johnjansen/marlin/message"
)

// CookieSuite drives message.FromRequest's cookie round-trip.
type CookieSuite struct {
	r   *http.Request
	msg *message.Message
}

func (cks *CookieSuite) reset() {
	cks.r = httptest.NewRequest(http.MethodGet, "/", nil)
	cks.msg = nil
}

func (cks *CookieSuite) aRequestWithHeaderSetTo(header, value string) error {
	cks.r.Header.Set(header, value)
	return nil
}

func (cks *CookieSuite) theRequestIsCrackedIntoAMessage() error {
	cks.msg = message.FromRequest(cks.r)
	return nil
}

func (cks *CookieSuite) theMessageHasACookieNamedWithValue(name, value string) error {
	for _, c := range cks.msg.Cookie {
		if c.Name == name {
			if c.Value != value {
				return fmt.Errorf("cookie %q: expected value %q, got %q", name, value, c.Value)
			}
			return nil
		}
	}
	return fmt.Errorf("no cookie named %q found", name)
}

// InitializeCookieScenario registers the cookie-echo steps.
func InitializeCookieScenario(ctx *godog.ScenarioContext) {
	cks := &CookieSuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		cks.reset()
		return gctx, nil
	})

	ctx.Step(`^a request with header "([^"]*)" set to "([^"]*)"$`, cks.aRequestWithHeaderSetTo)
	ctx.Step(`^the request is cracked into a message$`, cks.theRequestIsCrackedIntoAMessage)
	ctx.Step(`^the message has a cookie named "([^"]*)" with value "([^"]*)"$`, cks.theMessageHasACookieNamedWithValue)
}
