package secure

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/johnjansen/marlin/site"
)

func TestValidateCORSRejectsWildcardWithCredentials(t *testing.T) {
	err := ValidateCORS(site.CORSPolicy{AllowOrigin: []string{"*"}, AllowCredentials: true})
	assert.Error(t, err)
}

func TestValidateCORSAllowsConcreteOriginWithCredentials(t *testing.T) {
	err := ValidateCORS(site.CORSPolicy{AllowOrigin: []string{"https://example.com"}, AllowCredentials: true})
	assert.NoError(t, err)
}

func TestApplyCORSSetsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://example.com")

	ApplyCORS(w, r, site.CORSPolicy{AllowOrigin: []string{"https://example.com"}, AllowCredentials: true})
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestApplyHeadersWritesSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	ApplyHeaders(w, site.SecurityHeaders{
		ContentTypeNosniff: true,
		FrameOptions:       "DENY",
		HSTSMaxAgeSeconds:  31536000,
	})
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "max-age=31536000", w.Header().Get("Strict-Transport-Security"))
}

func TestRateLimiterBlocksAfterThreshold(t *testing.T) {
	rl := NewRateLimiter(2)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"

	assert.True(t, rl.Allow(r))
	assert.True(t, rl.Allow(r))
	assert.False(t, rl.Allow(r))
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(r))
}
