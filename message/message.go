// Package message defines Marlin's message value objects: the shape of
// an inbound/outbound HTTP message as it is carried from the transport
// through the site registry, router, and streaming engines.
//
// Per spec.md §1 and §4.C, the full HTTPMessage/SOAPMessage/JSONMessage
// object model (and the XML/SOAP/JSON parsers and crypto primitives
// behind it) is an external collaborator — this package specifies only
// the interfaces the core dispatch code needs, not the parsers.
package message

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Body wraps a request/response body reader. It neither buffers the
// body in memory nor spills it to a file; the reader is passed through
// as is. Compression is applied by the router (component E), not here.
type Body struct {
	r         io.ReadCloser
	spillPath string
	size      int64
}

// NewBody wraps an io.ReadCloser as a Body without reading from it.
func NewBody(r io.ReadCloser) *Body {
	return &Body{r: r}
}

// Reader returns the underlying reader. It can be consumed once; Body
// keeps no copy of what was read.
func (b *Body) Reader() io.ReadCloser { return b.r }

// Size returns the size recorded in the Body. Reads through Reader are
// not counted, so a Body made by NewBody reports 0.
func (b *Body) Size() int64 { return b.size }

// Message is the concrete value object carried through Marlin's core:
// site registry (D), router (E), and the streaming engines (F/G) all
// operate on *Message, never on the raw net/http types directly, so
// that SSE/WebSocket upgrades and rewriter forwards share one shape.
type Message struct {
	Method string

	// Scheme, Host, Port, Path, Query and Anchor are the "cracked" URL
	// fields named in spec.md §3. Host is lower-cased at construction;
	// Path retains the caller's case (matching rules are applied by the
	// sites/router, not by the message itself).
	Scheme string
	Host   string
	Port   int
	Path   string
	Query  url.Values
	Anchor string

	Header http.Header
	Cookie []*http.Cookie
	Body   *Body

	// Sender is the remote address reported by the underlying
	// connection (net.Conn.RemoteAddr().String()).
	Sender string

	// AccessToken is an optional bearer credential extracted by the
	// router's authentication step.
	AccessToken string

	// Routing is the ordered sequence of path segments past the
	// matched site's prefix (spec.md glossary: "Routing").
	Routing []string
}

// FromRequest cracks an *http.Request into a *Message. It does not read
// the request body; the body stays available through Body.Reader.
func FromRequest(r *http.Request) *Message {
	host := strings.ToLower(r.URL.Hostname())
	port := 0
	if p := r.URL.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &Message{
		Method: r.Method,
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Anchor: r.URL.Fragment,
		Header: r.Header.Clone(),
		Cookie: r.Cookies(),
		Body:   NewBody(r.Body),
		Sender: r.RemoteAddr,
	}
}

// URL reassembles the cracked fields into a *url.URL. Used by the
// rewriter to round-trip cracked fields (spec.md §8 invariant 6).
func (m *Message) URL() *url.URL {
	host := m.Host
	if m.Port != 0 {
		host = host + ":" + strconv.Itoa(m.Port)
	}
	u := &url.URL{
		Scheme:   m.Scheme,
		Host:     host,
		Path:     m.Path,
		RawQuery: m.Query.Encode(),
		Fragment: m.Anchor,
	}
	return u
}

// HTTPMessage, SOAPMessage and JSONMessage are marker interfaces for the
// external message-value-object kinds named in spec.md §1/§4.C. Marlin's
// core never inspects their Payload — only transport code needs to know
// a handler accepted one of these kinds, so the dispatch contract
// type-checks against them without implementing any parsing.
type (
	HTTPMessage interface {
		Kind() string
		Payload() []byte
	}
	SOAPMessage interface {
		Kind() string
		Payload() []byte
	}
	JSONMessage interface {
		Kind() string
		Payload() []byte
	}
)
