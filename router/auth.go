package router

import (
	"net/http"

	"github.com/johnjansen/marlin/auth"
	"github.com/johnjansen/marlin/site"
)

const authSchemeAnonymous = auth.SchemeAnonymous

// checkSiteAuth adapts a site's stored scheme/realm/user/hash fields
// into an auth.Check call.
func checkSiteAuth(s *site.Site, r *http.Request) error {
	creds := auth.Credentials{Realm: s.AuthRealm, User: s.AuthUser, PassHash: s.AuthPassHash}
	return auth.Check(auth.Scheme(s.AuthScheme), creds, r)
}

func challengeSiteAuth(w http.ResponseWriter, s *site.Site) {
	auth.Challenge(w, auth.Scheme(s.AuthScheme), s.AuthRealm)
}
