package features

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"

	"github.com/johnjansen/marlin/site"
	"github.com/johnjansen/marlin/sse"
)

// SSESuite drives an Engine/Stream directly, the way router.Router's
// StreamEngine hand-off would after a handler returns site.UpgradeSSE.
type SSESuite struct {
	engine *sse.Engine
	stream *sse.Stream
	w      *httptest.ResponseRecorder
}

func (ss *SSESuite) reset() {
	ss.engine = sse.NewEngine(sse.Config{})
	ss.stream = nil
	ss.w = nil
}

func (ss *SSESuite) anOpenSSEStream() error {
	ss.w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/marlin/events", nil)
	s := &site.Site{}
	stream, err := ss.engine.Open(ss.w, r, s, nil)
	if err != nil {
		return err
	}
	ss.stream = stream
	return nil
}

func (ss *SSESuite) iSendEventsWithData(a, b, c string) error {
	for _, data := range []string{a, b, c} {
		if err := ss.engine.SendEvent(ss.stream.Handle(), sse.Event{Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (ss *SSESuite) theClientObservesBeforeData(idLine, data string) error {
	body := ss.w.Body.String()
	idIdx := strings.Index(body, strings.Replace(idLine, ":", ": ", 1))
	dataIdx := strings.Index(body, "data: "+data)
	if idIdx < 0 {
		return fmt.Errorf("body does not contain %q:\n%s", idLine, body)
	}
	if dataIdx < 0 {
		return fmt.Errorf("body does not contain data %q:\n%s", data, body)
	}
	if idIdx > dataIdx {
		return fmt.Errorf("%q appeared after data %q:\n%s", idLine, data, body)
	}
	return nil
}

// InitializeSSEScenario registers the SSE sequencing steps.
func InitializeSSEScenario(ctx *godog.ScenarioContext) {
	ss := &SSESuite{}
	ctx.Before(func(gctx context.Context, sc *godog.Scenario) (context.Context, error) {
		ss.reset()
		return gctx, nil
	})

	ctx.Step(`^an open SSE stream$`, ss.anOpenSSEStream)
	ctx.Step(`^I send events with data "([^"]*)", "([^"]*)", "([^"]*)"$`, ss.iSendEventsWithData)
	ctx.Step(`^the client observes "([^"]*)" before data "([^"]*)"$`, ss.theClientObservesBeforeData)
}
