package ratelimit

import (
	"net"
	"net/http"
	"strconv"
)

// KeyFunc picks the identity a request is counted against.
type KeyFunc func(r *http.Request) string

// ByIP keys requests by client address. chi's RealIP middleware, when
// installed, has already rewritten RemoteAddr from proxy headers.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over rule with 429. A nil Limiter disables
// limiting, which is how the server runs without Redis.
func Middleware(l *Limiter, rule Rule, key KeyFunc, reject http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			ok, _ := l.Allow(r.Context(), id, rule)
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(l.RetryAfter(r.Context(), id, rule).Seconds())))
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
