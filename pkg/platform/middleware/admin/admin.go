package admin

import (
	"crypto/subtle"
	"net/http"
)

// HeaderAdminToken carries the operator token that grants the root origin.
const HeaderAdminToken = "X-Admin-Token"

// Presented reports whether the request carries an admin token at all.
func Presented(r *http.Request) bool {
	return r.Header.Get(HeaderAdminToken) != ""
}

// TokenMatches compares the presented admin token with expected in constant
// time. An empty expected token never matches.
func TokenMatches(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	token := r.Header.Get(HeaderAdminToken)
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
