package site

import (
	"sort"
	"strings"
	"sync"

	"github.com/johnjansen/marlin/errs"
)

// Ref is an opaque handle to a registered Site, returned by
// CreateSite. It is comparable and safe to hold across goroutines;
// Registry methods re-resolve it against the live table on every call
// so a stale Ref (after DeleteSite) simply stops resolving.
type Ref struct {
	port   int
	prefix string
}

// Registry is the ordered (port, prefix) -> Site table (spec.md
// §4.D). All operations are safe for concurrent use; the table is
// read-hot and write-rare, so a single RWMutex guards it (spec.md §5's
// concurrency note for this component).
type Registry struct {
	mu    sync.RWMutex
	sites map[Ref]*Site
	seq   map[Ref]int // registration order, for the "earliest wins" tie-break
	next  int
}

// NewRegistry returns an empty site registry.
func NewRegistry() *Registry {
	return &Registry{
		sites: map[Ref]*Site{},
		seq:   map[Ref]int{},
	}
}

// CreateSite registers a new site and returns its handle. subsite, when
// true, requires an existing, already-registered site whose prefix is
// a proper path-prefix of prefix on the same port; the new site
// inherits that parent's defaults (spec.md §4.D).
func (r *Registry) CreateSite(kind PrefixKind, secure bool, port int, prefix string, subsite bool) (Ref, error) {
	norm := normalizePrefix(prefix)
	ref := Ref{port: port, prefix: norm}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sites[ref]; exists {
		return Ref{}, errs.New(errs.AlreadyRegistered, "site already registered for this port and prefix")
	}

	var parent *Site
	if subsite {
		var err error
		parent, err = r.findParentLocked(port, norm)
		if err != nil {
			return Ref{}, err
		}
	}

	s := newSite(kind, secure, port, norm, parent)
	r.sites[ref] = s
	r.seq[ref] = r.next
	r.next++
	return ref, nil
}

// findParentLocked returns the most specific already-registered site
// on port whose prefix is a proper path-prefix of child. Callers must
// hold r.mu.
func (r *Registry) findParentLocked(port int, child string) (*Site, error) {
	var best *Site
	bestLen := -1
	for ref, s := range r.sites {
		if ref.port != port {
			continue
		}
		if isProperPathPrefix(s.Prefix, child) && len(s.Prefix) > bestLen {
			best = s
			bestLen = len(s.Prefix)
		}
	}
	if best == nil {
		return nil, errs.New(errs.NotFound, "no parent site registered for subsite prefix")
	}
	return best, nil
}

// StartSite transitions ref from Configured to Started. Before this
// call, FindSite never returns ref's site (spec.md §4.D). Start fails
// with ConfigInvalid if the site's CORS policy allows credentialed
// requests from the wildcard origin (spec.md §8's CORS guard
// invariant) — the stricter header-injection logic lives in package
// secure, but the narrow invariant itself has no HTTP dependency, so
// it is checked here rather than pulled in through an import that
// would cycle back to this package.
func (r *Registry) StartSite(ref Ref) error {
	r.mu.RLock()
	s, ok := r.sites[ref]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotFound, "site not registered")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConfigured {
		return errs.New(errs.NotConfigured, "site is not in a configured state")
	}
	if err := validateCORSGuard(s.Headers.CORS); err != nil {
		return err
	}
	s.state = StateStarted
	return nil
}

// validateCORSGuard enforces the same invariant as secure.ValidateCORS:
// AllowCredentials=true combined with a wildcard AllowOrigin entry is
// rejected.
func validateCORSGuard(p CORSPolicy) error {
	if !p.AllowCredentials {
		return nil
	}
	for _, origin := range p.AllowOrigin {
		if origin == "*" {
			return errs.New(errs.ConfigInvalid, "CORS: AllowOrigin \"*\" is incompatible with AllowCredentials")
		}
	}
	return nil
}

// StopSite transitions a started site back out of dispatch without
// removing its registration, so in-flight sub-sites keep their parent.
func (r *Registry) StopSite(ref Ref) error {
	r.mu.RLock()
	s, ok := r.sites[ref]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.NotFound, "site not registered")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	return nil
}

// DeleteSite removes a site's registration. It fails with HasSubsites
// if any other registered site still names this one as Parent, and
// with NotFound if no such (port, prefix) is registered.
func (r *Registry) DeleteSite(port int, prefix string) error {
	norm := normalizePrefix(prefix)
	ref := Ref{port: port, prefix: norm}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sites[ref]
	if !ok {
		return errs.New(errs.NotFound, "site not registered")
	}
	for other, child := range r.sites {
		if other == ref {
			continue
		}
		if child.Parent == s {
			return errs.New(errs.HasSubsites, "site has registered sub-sites")
		}
	}
	delete(r.sites, ref)
	delete(r.seq, ref)
	return nil
}

// Site resolves ref to its live Site, or nil if it has been deleted.
func (r *Registry) Site(ref Ref) *Site {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sites[ref]
}

// candidate pairs a matched site with the data needed to apply the
// spec.md §4.D tie-break: kind rank, then literal length, then
// registration order.
type candidate struct {
	site *Site
	ref  Ref
	seq  int
}

// FindSite performs the longest-prefix, kind-tie-broken match over
// every Started site registered on port, per spec.md §4.D. It returns
// the matched site and the routing segments (the portion of
// requestPath beyond the matched prefix, split on "/").
//
// Matching is case-insensitive on the host/prefix portion (prefixes
// are normalized to lower-case at registration, so comparison here
// lower-cases only the path's prefix-length slice) and case-sensitive
// on the remainder.
func (r *Registry) FindSite(port int, requestPath string) (*Site, []string, bool) {
	lowerPath := strings.ToLower(requestPath)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []candidate
	for ref, s := range r.sites {
		if ref.port != port {
			continue
		}
		if s.State() != StateStarted {
			continue
		}
		if !strings.HasPrefix(lowerPath, s.Prefix) {
			continue
		}
		candidates = append(candidates, candidate{site: s, ref: ref, seq: r.seq[ref]})
	}
	if len(candidates) == 0 {
		return nil, nil, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.site.Kind.rank() != b.site.Kind.rank() {
			return a.site.Kind.rank() > b.site.Kind.rank()
		}
		if len(a.site.Prefix) != len(b.site.Prefix) {
			return len(a.site.Prefix) > len(b.site.Prefix)
		}
		return a.seq < b.seq
	})

	best := candidates[0]
	remainder := requestPath[len(best.site.Prefix):]
	routing := splitRouting(remainder)
	return best.site, routing, true
}

// splitRouting turns the unmatched path suffix into the Routing
// segment sequence spec.md §4.D hands to the handler.
func splitRouting(remainder string) []string {
	trimmed := strings.Trim(remainder, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
