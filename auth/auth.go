// Package auth implements the credential checking spec.md §6's
// Authentication configuration surface describes: a site-level scheme
// plus realm/domain/user/password, checked once per dispatch before
// the filter chain runs (spec.md §4.E step 3).
//
// Grounded on the teacher's auth package having owned exactly this
// concern (credential verification plus a pluggable store) before it
// was deleted for being session/CSRF/Buffalo-context-shaped; only the
// store-interface idea survives here, rebuilt against net/http and
// golang.org/x/crypto/bcrypt instead of gorilla/sessions.
package auth

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/johnjansen/marlin/errs"
)

// Scheme is a site's authentication mechanism, per spec.md §6's
// Authentication `Scheme` field.
type Scheme string

const (
	SchemeAnonymous Scheme = "Anonymous"
	SchemeBasic     Scheme = "Basic"
	SchemeNTLM      Scheme = "NTLM"
	SchemeNegotiate Scheme = "Negotiate"
	SchemeDigest    Scheme = "Digest"
	SchemeKerberos  Scheme = "Kerberos"
)

// Credentials is one site's fixed Basic-auth identity, per spec.md
// §6's `User` / `Password` (encrypted at rest by the config package;
// already plaintext by the time it reaches here).
type Credentials struct {
	Realm    string
	User     string
	PassHash []byte // bcrypt hash
}

// NewCredentials hashes password with bcrypt at its default cost.
func NewCredentials(realm, user, password string) (Credentials, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Realm: realm, User: user, PassHash: hash}, nil
}

// Check verifies an inbound request against a site's configured
// scheme. Anonymous always passes. Basic validates the
// Authorization header against Credentials. The remaining RFC-named
// schemes (NTLM, Negotiate, Digest, Kerberos) are external
// collaborators per spec.md §1 — Check reports errs.AuthFailed for
// them rather than silently accepting, since Marlin does not
// implement their handshakes.
func Check(scheme Scheme, creds Credentials, r *http.Request) error {
	switch scheme {
	case "", SchemeAnonymous:
		return nil
	case SchemeBasic:
		return checkBasic(creds, r)
	default:
		return errs.New(errs.AuthFailed, "authentication scheme not implemented: "+string(scheme))
	}
}

func checkBasic(creds Credentials, r *http.Request) error {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return errs.New(errs.AuthRequired, "Basic credentials required")
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) != 1 {
		return errs.New(errs.AuthFailed, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(creds.PassHash, []byte(pass)); err != nil {
		return errs.New(errs.AuthFailed, "invalid credentials")
	}
	return nil
}

// Challenge writes the WWW-Authenticate header a 401 response needs
// for the given scheme (spec.md §4.E step 3's "challenge headers").
func Challenge(w http.ResponseWriter, scheme Scheme, realm string) {
	switch scheme {
	case SchemeBasic:
		w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	case SchemeNTLM:
		w.Header().Set("WWW-Authenticate", "NTLM")
	case SchemeNegotiate:
		w.Header().Set("WWW-Authenticate", "Negotiate")
	case SchemeDigest:
		w.Header().Set("WWW-Authenticate", `Digest realm="`+realm+`"`)
	}
}
