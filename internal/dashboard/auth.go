package dashboard

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken wraps next so only requests carrying token are served.
// API clients send "Authorization: Bearer <token>"; browsers use the Basic
// auth prompt with the token as the password. An empty token rejects
// every request.
func requireToken(next http.HandlerFunc, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" || !tokenMatches(r, token) {
			w.Header().Set("WWW-Authenticate", `Basic realm="questionbot-dashboard"`)
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func tokenMatches(r *http.Request, token string) bool {
	var got string
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		got = strings.TrimSpace(auth[7:])
	} else if _, pass, ok := r.BasicAuth(); ok {
		got = pass
	}
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
