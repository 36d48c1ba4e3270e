package router

import (
	"compress/gzip"
	"net/http"
	"strings"

	"github.com/johnjansen/marlin/secure"
	"github.com/johnjansen/marlin/site"
)

// marlinWriter wraps the connection's http.ResponseWriter to apply
// spec.md §4.E step 7's automatic response headers (security headers,
// CORS, cookie defaults) and §4.E's compression clause at the moment
// headers are committed, without requiring every handler to know
// about site configuration.
type marlinWriter struct {
	http.ResponseWriter
	request       *http.Request
	site          *site.Site
	headerWritten bool
	gzw           *gzip.Writer
	upgrade       site.Upgrade
}

// recordUpgrade implements site's upgradeRecorder interface so a
// dispatched handler's Upgrade return value reaches the router.
func (mw *marlinWriter) recordUpgrade(u site.Upgrade) {
	mw.upgrade = u
}

func newMarlinWriter(w http.ResponseWriter, r *http.Request, s *site.Site) *marlinWriter {
	return &marlinWriter{ResponseWriter: w, request: r, site: s}
}

// WriteHeader finalizes automatic headers before committing the
// status line, then delegates to the underlying writer.
func (mw *marlinWriter) WriteHeader(status int) {
	mw.commitHeaders()
	mw.ResponseWriter.WriteHeader(status)
}

// Write triggers the same header finalization as WriteHeader on the
// first call, matching net/http's own implicit-200 behavior.
func (mw *marlinWriter) Write(b []byte) (int, error) {
	if !mw.headerWritten {
		mw.commitHeaders()
	}
	if mw.gzw != nil {
		return mw.gzw.Write(b)
	}
	return mw.ResponseWriter.Write(b)
}

func (mw *marlinWriter) commitHeaders() {
	if mw.headerWritten {
		return
	}
	mw.headerWritten = true

	secure.ApplyHeaders(mw.ResponseWriter, mw.site.Headers)
	secure.ApplyCORS(mw.ResponseWriter, mw.request, mw.site.Headers.CORS)
	applyCookieDefaults(mw.ResponseWriter, mw.site.Cookies)

	if mw.site.Compression && acceptsGzip(mw.request) && compressible(mw.ResponseWriter.Header().Get("Content-Type")) {
		mw.ResponseWriter.Header().Set("Content-Encoding", "gzip")
		mw.ResponseWriter.Header().Del("Content-Length")
		mw.gzw = gzip.NewWriter(mw.ResponseWriter)
	}
}

// Close flushes any open gzip writer. Callers must defer this once
// per request.
func (mw *marlinWriter) Close() error {
	if mw.gzw != nil {
		return mw.gzw.Close()
	}
	return nil
}

// Flush satisfies http.Flusher for handlers using chunked/streaming
// output (spec.md §4.E's chunked output clause), flushing any pending
// gzip bytes first so chunk boundaries stay meaningful.
func (mw *marlinWriter) Flush() {
	if mw.gzw != nil {
		_ = mw.gzw.Flush()
	}
	if f, ok := mw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func compressible(contentType string) bool {
	if contentType == "" {
		return false
	}
	mime := contentType
	if i := strings.IndexByte(mime, ';'); i != -1 {
		mime = mime[:i]
	}
	switch {
	case strings.HasPrefix(mime, "text/"):
		return true
	case mime == "application/json",
		mime == "application/javascript",
		mime == "application/xml",
		mime == "image/svg+xml":
		return true
	default:
		return false
	}
}

// applyCookieDefaults backfills attributes on any Set-Cookie header
// the handler added, per spec.md §4.E's cookie clause: defaults apply
// only to attributes the handler did not already specify.
func applyCookieDefaults(w http.ResponseWriter, defaults site.CookieDefaults) {
	header := w.Header()
	raw := header["Set-Cookie"]
	if len(raw) == 0 {
		return
	}

	fakeResp := &http.Response{Header: http.Header{"Set-Cookie": raw}}
	cookies := fakeResp.Cookies()
	if len(cookies) == 0 {
		return
	}

	rewritten := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Path == "" && defaults.Path != "" {
			c.Path = defaults.Path
		}
		if !c.Secure && defaults.Secure {
			c.Secure = true
		}
		if !c.HttpOnly && defaults.HTTPOnly {
			c.HttpOnly = true
		}
		if c.SameSite == http.SameSiteDefaultMode && defaults.SameSite != http.SameSiteDefaultMode {
			c.SameSite = defaults.SameSite
		}
		rewritten = append(rewritten, c.String())
	}
	header["Set-Cookie"] = rewritten
}
