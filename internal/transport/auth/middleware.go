// Package auth attributes requests to the operator that made them. It does
// not authenticate; the service is expected to run behind a gateway that does.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const RequesterKey ctxKey = "requester"

const (
	RequesterHeader = "X-Requested-By"
	Anonymous       = "anonymous"
	maxRequesterLen = 128
)

// RequesterMiddleware stores the requester named by the X-Requested-By
// header, or the requested_by query parameter for websocket clients.
func RequesterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester := strings.TrimSpace(r.Header.Get(RequesterHeader))
		if requester == "" {
			requester = strings.TrimSpace(r.URL.Query().Get("requested_by"))
		}
		if len(requester) > maxRequesterLen {
			requester = requester[:maxRequesterLen]
		}
		if requester != "" {
			r = r.WithContext(context.WithValue(r.Context(), RequesterKey, requester))
		}
		next.ServeHTTP(w, r)
	})
}

// GetRequester returns the requester stored by RequesterMiddleware, or
// Anonymous.
func GetRequester(ctx context.Context) string {
	requester, ok := ctx.Value(RequesterKey).(string)
	if !ok || requester == "" {
		return Anonymous
	}
	return requester
}
