package api

import (
	"crypto/subtle"
	"net/http"
)

// basicAuth guards telemetry endpoints with a single viewer credential.
// With no password configured every request is allowed.
type basicAuth struct {
	user string
	pass string
}

func (a basicAuth) enabled() bool {
	return a.user != "" && a.pass != ""
}

func (a basicAuth) allow(r *http.Request) bool {
	if !a.enabled() {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// Evaluate both so a wrong user costs the same as a wrong password.
	userOK := secureCompare(user, a.user)
	passOK := secureCompare(pass, a.pass)
	return userOK && passOK
}

func (a basicAuth) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.allow(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Visor Engine"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
