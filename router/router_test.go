package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnjansen/marlin/auth"
	"github.com/johnjansen/marlin/report"
	"github.com/johnjansen/marlin/site"
)

func newTestRouter(t *testing.T) (*Router, *site.Registry) {
	t.Helper()
	reg := site.NewRegistry()
	rpt := report.New(report.Options{AlertsDir: t.TempDir()})
	return New(80, reg, rpt), reg
}

func TestDispatch404WhenNoSiteMatches(t *testing.T) {
	rt, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rt.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDispatch405WhenVerbUnhandled(t *testing.T) {
	rt, reg := newTestRouter(t)
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/marlin/", false)
	require.NoError(t, err)
	require.NoError(t, reg.StartSite(ref))
	s := reg.Site(ref)
	s.AddHandler(http.MethodGet, func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		w.WriteHeader(http.StatusOK)
		return site.UpgradeNone
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/marlin/x", nil)
	rt.ServeHTTP(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET", w.Header().Get("Allow"))
}

func TestDispatchCallsHandlerAndAppliesHeaders(t *testing.T) {
	rt, reg := newTestRouter(t)
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/marlin/", false)
	require.NoError(t, err)
	require.NoError(t, reg.StartSite(ref))
	s := reg.Site(ref)
	s.Headers.ContentTypeNosniff = true
	var gotRouting []string
	s.AddHandler(http.MethodGet, func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		gotRouting = routing
		w.Write([]byte("hello"))
		return site.UpgradeNone
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/marlin/a/b", nil)
	rt.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, []string{"a", "b"}, gotRouting)
}

func TestDispatch401WhenAuthRequired(t *testing.T) {
	rt, reg := newTestRouter(t)
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/marlin/", false)
	require.NoError(t, err)
	require.NoError(t, reg.StartSite(ref))
	s := reg.Site(ref)
	creds, err := auth.NewCredentials("marlin", "admin", "s3cret")
	require.NoError(t, err)
	s.AuthScheme = string(auth.SchemeBasic)
	s.AuthRealm = creds.Realm
	s.AuthUser = creds.User
	s.AuthPassHash = creds.PassHash
	s.AddHandler(http.MethodGet, func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		w.WriteHeader(http.StatusOK)
		return site.UpgradeNone
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/marlin/x", nil)
	rt.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")
}

func TestDispatchFilterCanAbortChain(t *testing.T) {
	rt, reg := newTestRouter(t)
	ref, err := reg.CreateSite(site.KindNamed, false, 80, "/marlin/", false)
	require.NoError(t, err)
	require.NoError(t, reg.StartSite(ref))
	s := reg.Site(ref)
	called := false
	s.AddHandler(http.MethodGet, func(w http.ResponseWriter, r *http.Request, routing []string) site.Upgrade {
		called = true
		return site.UpgradeNone
	})
	s.AddFilter(site.Filter{
		Name:     "block",
		Priority: 0,
		Handle: func(w http.ResponseWriter, r *http.Request, next http.Handler) error {
			w.WriteHeader(http.StatusForbidden)
			return nil
		},
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/marlin/x", nil)
	rt.ServeHTTP(w, r)
	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
