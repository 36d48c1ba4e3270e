// Package secure builds the response headers, CORS validation, and
// rate limiting the router applies around every dispatch (spec.md
// §4.E/§6). Adapted from the teacher's buffalo security middleware:
// same header set and same in-memory rate limiter shape, generalized
// from a single global Options struct to per-site.SecurityHeaders and
// a reusable limiter usable as a site.Filter.
package secure

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/johnjansen/marlin/errs"
	"github.com/johnjansen/marlin/site"
)

// ApplyHeaders writes a site's always-added security headers onto w,
// per spec.md §3's Site attribute list. The router calls it once, when
// the response headers are committed (the handler's first Write or
// WriteHeader), so these values replace any the handler set under the
// same header names.
func ApplyHeaders(w http.ResponseWriter, h site.SecurityHeaders) {
	if h.ContentTypeNosniff {
		w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	if h.FrameOptions != "" {
		w.Header().Set("X-Frame-Options", h.FrameOptions)
	}
	if h.XSSProtection != "" {
		w.Header().Set("X-XSS-Protection", h.XSSProtection)
	}
	if h.CacheControl != "" {
		w.Header().Set("Cache-Control", h.CacheControl)
	}
	if h.HSTSMaxAgeSeconds > 0 {
		w.Header().Set("Strict-Transport-Security", formatSTSHeader(h.HSTSMaxAgeSeconds, h.HSTSIncludeSubdomains))
	}
}

func formatSTSHeader(seconds int, includeSubdomains bool) string {
	header := fmt.Sprintf("max-age=%d", seconds)
	if includeSubdomains {
		header += "; includeSubDomains"
	}
	return header
}

// ValidateCORS enforces spec.md §4.E/§8's CORS guard: a policy with
// AllowCredentials=true must not also allow the wildcard origin.
// site.Registry.StartSite enforces the same rule through its own
// validateCORSGuard, so a misconfigured site never reaches dispatch;
// nothing in the router calls ValidateCORS itself.
func ValidateCORS(p site.CORSPolicy) error {
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

// ApplyCORS injects the Access-Control-* response headers for an
// inbound request's Origin, when the site has CORS enabled.
func ApplyCORS(w http.ResponseWriter, r *http.Request, p site.CORSPolicy) {
	if len(p.AllowOrigin) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !originAllowed(p.AllowOrigin, origin) {
		return
	}
	if len(p.AllowOrigin) == 1 && p.AllowOrigin[0] == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if p.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if len(p.AllowMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(p.AllowMethods, ", "))
	}
	if len(p.AllowHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(p.AllowHeaders, ", "))
	}
	if p.MaxAgeSeconds > 0 {
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", p.MaxAgeSeconds))
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// RateLimiter is a simple in-memory, per-client sliding-window
// limiter, grounded on the teacher's RateLimitMiddleware. Production
// deployments spanning more than one process should back this with a
// shared store instead; Marlin's own default stays in-process to avoid
// imposing a dependency no site is guaranteed to have configured.
type RateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	window            time.Duration
	clients           map[string][]time.Time
}

// NewRateLimiter returns a limiter allowing requestsPerMinute requests
// per client IP in any rolling 60-second window.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		window:            time.Minute,
		clients:           map[string][]time.Time{},
	}
}

// Allow reports whether the request from r's client should proceed,
// recording it against the window if so.
func (rl *RateLimiter) Allow(r *http.Request) bool {
	ip := ClientIP(r)
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := rl.clients[ip][:0]
	for _, t := range rl.clients[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= rl.requestsPerMinute {
		rl.clients[ip] = recent
		return false
	}
	rl.clients[ip] = append(recent, now)
	return true
}

// Filter wraps the limiter as a site.Filter runnable in a site's
// ordered filter chain (spec.md §3's "ordered filter list").
func (rl *RateLimiter) Filter(priority int) site.Filter {
	return site.Filter{
		Name:     "rate-limit",
		Priority: priority,
		Handle: func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
			if !rl.Allow(r) {
				w.Header().Set("Retry-After", "60")
				return errs.New(errs.BadRequest, "rate limit exceeded")
			}
			next.ServeHTTP(w, r)
			return nil
		},
	}
}

// ClientIP extracts the caller's address the way the teacher's
// getClientIP did, preferring X-Forwarded-For / X-Real-IP over
// RemoteAddr, rewritten with the strings package instead of the
// teacher's hand-rolled byte scans.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if comma := strings.IndexByte(fwd, ','); comma != -1 {
			return strings.TrimSpace(fwd[:comma])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if colon := strings.LastIndexByte(r.RemoteAddr, ':'); colon != -1 {
		return r.RemoteAddr[:colon]
	}
	return r.RemoteAddr
}
