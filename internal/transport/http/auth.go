package http

import (
	"context"
	"net/http"
	"strings"

	"exam-runner/internal/domain"
)

type ctxKey struct{}

var viewerKey = ctxKey{}

func withViewer(ctx context.Context, v domain.Viewer) context.Context {
	return context.WithValue(ctx, viewerKey, v)
}

// viewerFrom returns the viewer resolved by the auth middleware.
func viewerFrom(ctx context.Context) domain.Viewer {
	v, _ := ctx.Value(viewerKey).(domain.Viewer)
	return v
}

// requireViewer resolves the caller from a verified bearer token. Browsers
// cannot set headers on websocket upgrades, so ?token= is accepted as well.
func requireViewer(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" || auth == nil {
				writeError(w, domain.ErrUnauthorized)
				return
			}
			viewer, err := auth.Viewer(token)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withViewer(r.Context(), viewer)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}
