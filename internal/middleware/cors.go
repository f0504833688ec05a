// Package middleware holds the HTTP middleware shared by the REST routes and
// the WebSocket upgrade.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/sparkpath/internal/identity"
)

const preflightMaxAge = "600"

var (
	allowMethods = strings.Join([]string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	}, ", ")
	allowHeaders = strings.Join([]string{"Content-Type", "Authorization", identity.UserHeaderName}, ", ")
)

// originPolicy decides what a browser origin may do.
type originPolicy struct {
	any      bool
	explicit map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{explicit: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "*" {
			p.any = true
			continue
		}
		p.explicit[strings.TrimRight(o, "/")] = struct{}{}
	}
	return p
}

// allow reports whether origin is accepted and whether it may send credentials.
// Credentials are only granted to listed origins, never through the wildcard.
func (p originPolicy) allow(origin string) (ok, credentials bool) {
	if _, listed := p.explicit[origin]; listed {
		return true, true
	}
	return p.any, false
}

// CORS answers preflight requests and stamps CORS headers for accepted origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" {
				if ok, credentials := policy.allow(origin); ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", allowMethods)
					h.Set("Access-Control-Allow-Headers", allowHeaders)
					if credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if r.Method == http.MethodOptions {
						h.Set("Access-Control-Max-Age", preflightMaxAge)
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
