package rewrite

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/johnjansen/marlin/message"
)

// hopByHopHeaders lists the connection-scoped headers spec.md §4.I
// says must not be forwarded ("headers (minus hop-by-hop)"), per
// RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// Rewriter is one link of a Chain: a RuleSet plus the reverse proxy
// that forwards a message once the RuleSet mutates it. Grounded on
// other_examples/ManuGH-xg2g's Server: a Director closure rewriting
// req.URL/Host ahead of httputil.ReverseProxy.ServeHTTP, backed by an
// http.Transport tuned with the same dial/keepalive/idle timeouts.
type Rewriter struct {
	Name  string
	Rules RuleSet

	proxy *httputil.ReverseProxy
}

// NewRewriter returns a Rewriter named name, forwarding through client
// (or a default-tuned *http.Client if nil).
func NewRewriter(name string, rules RuleSet, client *http.Client) *Rewriter {
	if client == nil {
		client = defaultClient()
	}
	rw := &Rewriter{Name: name, Rules: rules}
	rw.proxy = &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			if u, ok := req.Context().Value(targetKey{}).(*url.URL); ok {
				req.URL = u
				req.Host = u.Host
			}
			stripHopByHopHeaders(req.Header)
		},
		Transport: client.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, "502 Bad Gateway", http.StatusBadGateway)
		},
	}
	return rw
}

func defaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

type targetKey struct{}

// rewrite evaluates rw's RuleSet against msg, returning the change
// count spec.md §4.I's rewrite operation names.
func (rw *Rewriter) rewrite(msg *message.Message) int {
	return rw.Rules.Evaluate(msg)
}

// forward issues the rewritten message as an outbound request,
// preserving method, headers minus hop-by-hop, and body (spec.md
// §4.I step 2), and copies status/body/headers back into w on
// success or replies 502 on failure (step 3) — both handled by
// httputil.ReverseProxy.ServeHTTP itself.
func (rw *Rewriter) forward(w http.ResponseWriter, r *http.Request, msg *message.Message) {
	ctx := context.WithValue(r.Context(), targetKey{}, msg.URL())
	rw.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// Chain is an ordered list of Rewriters (spec.md §4.I: "rewriters
// form an ordered list; the first to mutate wins"). AddRewriter
// appends to the tail.
type Chain struct {
	mu        sync.RWMutex
	rewriters []*Rewriter
}

// NewChain returns an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddRewriter appends rw to the tail of the chain.
func (c *Chain) AddRewriter(rw *Rewriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rewriters = append(c.rewriters, rw)
}

// Rewriters returns a snapshot of the chain in evaluation order.
func (c *Chain) Rewriters() []*Rewriter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Rewriter{}, c.rewriters...)
}

// ProcessMessage runs spec.md §4.I's process_message algorithm: each
// Rewriter in order gets a chance to rewrite msg; the first one whose
// RuleSet reports a nonzero change count forwards the request and the
// call reports handled=true. If no Rewriter mutates anything,
// ProcessMessage returns handled=false and the caller falls through to
// its normal dispatch.
func (c *Chain) ProcessMessage(w http.ResponseWriter, r *http.Request, msg *message.Message) (handled bool) {
	for _, rw := range c.Rewriters() {
		if rw.rewrite(msg) == 0 {
			continue
		}
		rw.forward(w, r, msg)
		return true
	}
	return false
}
