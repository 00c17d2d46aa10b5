package httpapi

import (
	"net/http"
	"strings"

	"villagegrid.org/internal/auth"
)

// publicPaths require no token. Everything else under /v1 does.
var publicPaths = map[string]bool{
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/v1/info":         true,
	"/v1/auth/login":   true,
	"/v1/auth/refresh": true,
}

// withAuth resolves the access token into a principal before routing.
// Requests to public paths pass through untouched; everything else is
// rejected here when no valid token is presented.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="villagegrid"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken checks carriers in a fixed order: the Authorization header
// wins, then the access_token cookie, then X-Access-Token. The first
// non-empty carrier is used and the rest are ignored.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get("X-Access-Token")
}

// principal returns the authenticated caller, or writes 401 and reports
// false. withAuth guarantees presence on protected routes; this guards
// against misrouted handlers.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return p, true
}

// require loads the principal and enforces one permission, auditing the
// denial through the service.
func (a *API) require(w http.ResponseWriter, r *http.Request, resource, action string) (auth.Principal, bool) {
	p, ok := a.principal(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	if err := a.auth.Authorize(r.Context(), p, resource, action, requestMeta(r)); err != nil {
		handleAuthError(w, r, err)
		return auth.Principal{}, false
	}
	return p, true
}

func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}
