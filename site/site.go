// Package site implements Marlin's site registry (spec.md §4.D): the
// ordered table of (port, prefix) -> Site bindings that request routing
// resolves against, including sub-site parenting and the prefix-kind
// tie-break rule.
//
// Grounded on the teacher's buffkit.Config/Kit struct shape (a plain
// struct of typed fields assembled once at startup) generalized from a
// single process-wide config into a per-site record, and on gorilla/mux
// (an indirect teacher dependency) for the verb router each Site owns.
package site

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// PrefixKind classifies how a site's host portion was specified. The
// registry uses this to break ties when more than one registered
// prefix matches an inbound request (spec.md §4.D).
type PrefixKind int

const (
	// KindWeak is a wildcard host binding ("*").
	KindWeak PrefixKind = iota
	// KindAddress is an explicit IP literal host.
	KindAddress
	// KindNamed is a bare DNS-style host name (no dots).
	KindNamed
	// KindFull is a fully-qualified host plus domain.
	KindFull
	// KindStrong is an exact "host:port" binding.
	KindStrong
)

// rank orders kinds for tie-break comparison: higher rank wins.
// Strong > Full > Named > Address > Weak, per spec.md §4.D.
func (k PrefixKind) rank() int {
	switch k {
	case KindStrong:
		return 4
	case KindFull:
		return 3
	case KindNamed:
		return 2
	case KindAddress:
		return 1
	default: // KindWeak
		return 0
	}
}

func (k PrefixKind) String() string {
	switch k {
	case KindStrong:
		return "Strong"
	case KindFull:
		return "Full"
	case KindNamed:
		return "Named"
	case KindAddress:
		return "Address"
	default:
		return "Weak"
	}
}

// State is a Site's lifecycle position. A site is reachable by
// find_site only while Started.
type State int

const (
	StateConfigured State = iota
	StateStarted
	StateStopped
)

// EncryptionLevel is the message-level encryption Site.Encryption
// names, per spec.md §3's Site attribute list. Marlin itself does not
// implement body/whole-message encryption (external collaborator,
// spec.md §1); the level is carried so a router can decide to reject
// or delegate.
type EncryptionLevel int

const (
	EncryptionNone EncryptionLevel = iota
	EncryptionSigning
	EncryptionBody
	EncryptionWhole
)

// CORSPolicy is a site's cross-origin policy. AllowOrigin "*" combined
// with AllowCredentials is rejected at start_site time (spec.md §6 /
// §8's CORS guard invariant).
type CORSPolicy struct {
	AllowOrigin      []string
	AllowCredentials bool
	AllowMethods     []string
	AllowHeaders     []string
	MaxAgeSeconds    int
}

// SecurityHeaders holds the always-added response headers spec.md §3
// lists on Site: X-Frame-Options, HSTS, X-Content-Type-Options, XSS
// mode, and a Cache-Control block, plus the CORS policy.
type SecurityHeaders struct {
	FrameOptions          string
	HSTSMaxAgeSeconds     int
	HSTSIncludeSubdomains bool
	ContentTypeNosniff    bool
	XSSProtection         string
	CacheControl          string
	CORS                  CORSPolicy
}

// CookieDefaults are the attributes Marlin stamps onto any
// Set-Cookie header the handler chain did not already specify
// explicitly (spec.md §6).
type CookieDefaults struct {
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Path     string
}

// Filter is a priority-ordered request/response interceptor a site
// runs around every handler dispatch (spec.md §3's "ordered filter
// list"). Filters run in ascending Priority order on the way in, and
// descending order on the way out; returning a non-nil error aborts
// the chain.
type Filter struct {
	Name     string
	Priority int
	Handle   func(w http.ResponseWriter, r *http.Request, next http.Handler) error
}

// Upgrade is what a handler asks the router to do with the connection
// after it returns, per spec.md §4.E step 6.
type Upgrade int

const (
	UpgradeNone Upgrade = iota
	UpgradeSSE
	UpgradeWS
)

// HandlerFunc is a site's per-verb handler. routing is the path
// segment sequence beyond the matched site prefix (spec.md §4.D's
// Routing value). Returning a non-None Upgrade tells the router to
// hand the connection to the SSE or WebSocket engine instead of
// treating the call as a completed synchronous response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, routing []string) Upgrade

// Site is one listening registration: a (port, prefix) binding plus
// everything the router needs to dispatch requests under it
// (spec.md §3's Site entry).
type Site struct {
	mu sync.RWMutex

	Kind   PrefixKind
	Secure bool
	Port   int
	Prefix string // host[:port]/path, normalized lower-case at registration

	AuthScheme       string
	AuthRealm        string
	AuthUser         string
	AuthPassHash     []byte // bcrypt hash; populated by the auth package
	NTLMCache        bool
	AllowedTypes     map[string]bool
	Headers          SecurityHeaders
	Cookies          CookieDefaults
	Compression      bool
	Async            bool
	EventStream      bool
	Encryption       EncryptionLevel
	EncryptionSecret string

	Filters      []Filter
	allowedVerbs map[string]bool // tracked alongside router for the 405 Allow header

	Parent *Site
	state  State

	// router performs the actual per-verb handler dispatch: each
	// AddHandler call registers a route matching any routing
	// remainder ("/{rest:.*}") gated on the verb, so path-templated
	// handlers (e.g. "/items/{id}") work via the same mechanism by
	// calling AddHandlerPattern directly.
	router *mux.Router
}

// handlerAdapter lets a site.HandlerFunc be stored as the
// http.Handler gorilla/mux routes require, while still surfacing the
// HandlerFunc's Upgrade return to the router package.
type handlerAdapter struct {
	h HandlerFunc
}

func (a handlerAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgradeResult := a.h(w, r, RoutingFromContext(r))
	if rec, ok := w.(upgradeRecorder); ok {
		rec.recordUpgrade(upgradeResult)
	}
}

type routingContextKey struct{}

// WithRoutingContext attaches the Routing segments find_site produced
// to r, so a handler registered via AddHandler (and matched against a
// synthetic sub-path) still sees the real routing value (spec.md
// §4.D's Routing output) regardless of how Match rewrote r.URL.Path
// for matching purposes.
func WithRoutingContext(r *http.Request, routing []string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), routingContextKey{}, routing))
}

// RoutingFromContext retrieves the Routing segments WithRoutingContext
// attached, or nil if none were set.
func RoutingFromContext(r *http.Request) []string {
	routing, _ := r.Context().Value(routingContextKey{}).([]string)
	return routing
}

// upgradeRecorder lets the router package's response writer capture
// the Upgrade value a handler returned, since http.Handler.ServeHTTP
// itself has no return value.
type upgradeRecorder interface {
	recordUpgrade(Upgrade)
}

// newSite allocates a Site with its own gorilla/mux subrouter for
// verb/handler dispatch, inheriting parent defaults when parent is
// non-nil (spec.md §4.D's subsite inheritance clause).
func newSite(kind PrefixKind, secure bool, port int, prefix string, parent *Site) *Site {
	s := &Site{
		Kind:         kind,
		Secure:       secure,
		Port:         port,
		Prefix:       prefix,
		Parent:       parent,
		state:        StateConfigured,
		router:       mux.NewRouter(),
		AllowedTypes: map[string]bool{},
		allowedVerbs: map[string]bool{},
	}
	if parent != nil {
		parent.mu.RLock()
		s.AuthScheme = parent.AuthScheme
		s.AuthRealm = parent.AuthRealm
		s.AuthUser = parent.AuthUser
		s.AuthPassHash = parent.AuthPassHash
		s.NTLMCache = parent.NTLMCache
		s.Headers = parent.Headers
		s.Cookies = parent.Cookies
		s.Compression = parent.Compression
		for ct := range parent.AllowedTypes {
			s.AllowedTypes[ct] = true
		}
		parent.mu.RUnlock()
	}
	return s
}

// Router returns the site's own gorilla/mux router, for registering
// verb->handler routes (component E wires handlers onto this).
func (s *Site) Router() *mux.Router {
	return s.router
}

// State reports the site's current lifecycle position.
func (s *Site) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AddHandler registers h for verb (case-insensitive) against any
// routing remainder under this site. Sub-site inheritance does not
// apply to handlers (spec.md §4.E: "the parent chain is not walked");
// each site's route table is its own.
func (s *Site) AddHandler(verb string, h HandlerFunc) {
	s.AddHandlerPattern(verb, "/{rest:.*}", h)
}

// AddHandlerPattern registers h for verb against a gorilla/mux path
// pattern, for handlers that want path variables (e.g.
// "/items/{id}") rather than the raw Routing segment slice.
func (s *Site) AddHandlerPattern(verb, pattern string, h HandlerFunc) {
	verb = strings.ToUpper(verb)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router.NewRoute().Path(pattern).Methods(verb).Handler(handlerAdapter{h})
	s.allowedVerbs[verb] = true
}

// Match resolves the handler registered for r's method against
// syntheticPath (the routing remainder reconstructed as a path), per
// spec.md §4.D/§4.E. It reports ok=false with MatchErr's kind implied
// by the caller checking AllowedVerbs if no verb matches a path that
// does have a registration.
func (s *Site) Match(r *http.Request, syntheticPath string) (http.Handler, bool) {
	s.mu.RLock()
	router := s.router
	s.mu.RUnlock()

	clone := new(http.Request)
	*clone = *r
	u := *r.URL
	u.Path = syntheticPath
	clone.URL = &u

	var rm mux.RouteMatch
	if !router.Match(clone, &rm) {
		return nil, false
	}
	*r = *mux.SetURLVars(r, rm.Vars)
	return rm.Handler, true
}

// AllowedVerbs lists every verb this site has a handler for, for the
// Allow header on a 405 response (spec.md §4.E step 5).
func (s *Site) AllowedVerbs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	verbs := make([]string, 0, len(s.allowedVerbs))
	for v := range s.allowedVerbs {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// AddFilter inserts f into the site's filter chain, keeping it sorted
// by ascending Priority.
func (s *Site) AddFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Filters = append(s.Filters, f)
	for i := len(s.Filters) - 1; i > 0 && s.Filters[i-1].Priority > s.Filters[i].Priority; i-- {
		s.Filters[i-1], s.Filters[i] = s.Filters[i], s.Filters[i-1]
	}
}

// normalizePrefix lower-cases the host/prefix portion (spec.md §4.D:
// "matching is case-insensitive on host/prefix, case-sensitive on the
// remainder") while leaving nothing else to normalize here, since the
// remainder is matched later at dispatch time against the raw request
// path.
func normalizePrefix(prefix string) string {
	return strings.ToLower(prefix)
}

// isProperPathPrefix reports whether child is strictly nested under
// parent's prefix path (spec.md §4.D's subsite requirement).
func isProperPathPrefix(parent, child string) bool {
	p := strings.TrimSuffix(parent, "/") + "/"
	return len(child) > len(p) && strings.HasPrefix(child, p)
}
