// Package router implements Marlin's request router (spec.md §4.E):
// the dispatch algorithm from an accepted HTTP connection through
// site lookup, authentication, the filter chain, handler selection,
// and upgrade routing into the SSE/WebSocket engines.
//
// Grounded on the teacher's buffalo middleware chaining style
// (ordered wrapping of http.Handler-shaped functions) generalized from
// a single global middleware stack to a per-site.Filter chain, and on
// secure.ApplyHeaders/ApplyCORS for the automatic response headers
// spec.md §4.E step 7 names.
package router

import (
	"net/http"
	"strings"

	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/message"
	"github.com/johnjansen/marlin/report"
	"github.com/johnjansen/marlin/site"
)

// StreamEngine is the shape component F (SSE) and component G
// (WebSocket) present to the router: given the already-matched site
// and routing segments, take ownership of the connection.
type StreamEngine interface {
	Serve(w http.ResponseWriter, r *http.Request, s *site.Site, routing []string)
}

// Router dispatches every inbound request on one listening port
// against a site.Registry, per spec.md §4.E.
type Router struct {
	Port     int
	Registry *site.Registry
	Reporter *report.Reporter
	SSE      StreamEngine
	WS       StreamEngine
}

// New returns a Router bound to port, dispatching against reg.
func New(port int, reg *site.Registry, rpt *report.Reporter) *Router {
	return &Router{Port: port, Registry: reg, Reporter: rpt}
}

// ServeHTTP implements http.Handler, running the full dispatch
// algorithm of spec.md §4.E steps 1-8 for a single request.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer rt.recoverPanic(w, r)

	msg := message.FromRequest(r)

	s, routing, ok := rt.Registry.FindSite(rt.Port, msg.Path)
	if !ok {
		http.Error(w, "404 not found", http.StatusNotFound)
		return
	}

	if err := rt.checkAuth(s, r); err != nil {
		rt.writeAuthFailure(w, s, err)
		return
	}

	r = site.WithRoutingContext(r, routing)
	mw := newMarlinWriter(w, r, s)
	defer mw.Close()

	handler, hok := s.Match(r, syntheticPath(routing))
	if !hok {
		mw.Header().Set("Allow", strings.Join(s.AllowedVerbs(), ", "))
		http.Error(mw, "405 method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chain := buildFilterChain(s.Filters, func(w http.ResponseWriter, r *http.Request) {
		rt.invokeHandler(mw, r, s, handler, routing)
	})
	if err := chain(mw, r); err != nil {
		rt.writeFilterError(mw, err)
	}
}

// syntheticPath reconstructs a path from the Routing segments
// find_site produced, for matching against a site's own mux routes
// (which are registered relative to the site, not the full request
// path).
func syntheticPath(routing []string) string {
	if len(routing) == 0 {
		return "/"
	}
	return "/" + strings.Join(routing, "/")
}

// checkAuth enforces spec.md §4.E step 3. Anonymous (the zero value)
// always passes without consulting the auth package.
func (rt *Router) checkAuth(s *site.Site, r *http.Request) error {
	if s.AuthScheme == "" || s.AuthScheme == string(authSchemeAnonymous) {
		return nil
	}
	return checkSiteAuth(s, r)
}

func (rt *Router) writeAuthFailure(w http.ResponseWriter, s *site.Site, err error) {
	challengeSiteAuth(w, s)
	http.Error(w, "401 unauthorized", errs.Status(err))
}

// invokeHandler runs handler, honoring the site's async flag (spec.md
// §4.E step 8), and hands off to the matching stream engine if the
// handler asked for an upgrade (step 6). mw records any Upgrade the
// handler returned via site.handlerAdapter's upgradeRecorder hook.
func (rt *Router) invokeHandler(mw *marlinWriter, r *http.Request, s *site.Site, handler http.Handler, routing []string) {
	run := func() { handler.ServeHTTP(mw, r) }

	if s.Async {
		done := make(chan struct{})
		go func() {
			defer close(done)
			run()
		}()
		<-done
	} else {
		run()
	}

	switch mw.upgrade {
	case site.UpgradeSSE:
		if rt.SSE != nil {
			rt.SSE.Serve(mw, r, s, routing)
		}
	case site.UpgradeWS:
		if rt.WS != nil {
			rt.WS.Serve(mw, r, s, routing)
		}
	}
}

// writeFilterError maps a filter-chain error to a response, per
// spec.md §4.E's "any unhandled failure inside a filter or handler
// produces 500 with an opaque body" — except for errors the filter
// itself classified (e.g. the rate limiter's BadRequest), which keep
// their own status.
func (rt *Router) writeFilterError(w http.ResponseWriter, err error) {
	status := errs.Status(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		rt.Reporter.Report("router.dispatch", err, "unhandled filter/handler failure", report.SeverityAlert)
	}
	http.Error(w, http.StatusText(status), status)
}

func (rt *Router) recoverPanic(w http.ResponseWriter, r *http.Request) {
	if rec := recover(); rec != nil {
		rt.Reporter.Report("router.dispatch", nil, "panic recovered during dispatch", report.SeverityAlert)
		http.Error(w, "500 internal server error", http.StatusInternalServerError)
	}
}

// buildFilterChain composes a site's ordered filters around core,
// running them in ascending Priority order on the way in (spec.md
// §4.E step 4). A filter returning a non-nil error aborts the chain
// and is reported to the caller without running later filters or
// core.
func buildFilterChain(filters []site.Filter, core http.HandlerFunc) func(http.ResponseWriter, *http.Request) error {
	next := func(w http.ResponseWriter, r *http.Request) error {
		core(w, r)
		return nil
	}
	for i := len(filters) - 1; i >= 0; i-- {
		f := filters[i]
		prevNext := next
		next = func(w http.ResponseWriter, r *http.Request) error {
			var innerErr error
			if err := f.Handle(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				innerErr = prevNext(w, r)
			})); err != nil {
				return err
			}
			return innerErr
		}
	}
	return next
}
