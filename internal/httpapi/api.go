// Package httpapi is the HTTP binding of the auth service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"villagegrid.org/internal/auth"
	"villagegrid.org/internal/obs"
)

// ReadyProbe pings the backing store for readiness checks.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service

	rateBurst   int
	ratePerSec  int
	corsOrigins []string
}

// Option configures the API.
type Option func(*API)

// WithRateLimit overrides the per-IP token bucket parameters.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSec > 0 {
			a.ratePerSec = perSec
		}
	}
}

// WithCORSOrigins sets the allowed cross-origin list.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) {
		a.corsOrigins = origins
	}
}

// New wires routes. The auth service is required; everything else has
// defaults.
func New(rp ReadyProbe, version string, authSvc *auth.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       authSvc,
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/profile", a.handleProfile)
	a.mux.HandleFunc("/v1/auth/password", a.handleChangePassword)

	a.mux.HandleFunc("/v1/auth/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/auth/sessions/", a.handleSessionResource)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = obs.Instrument(h, func(r *http.Request) string { return routePattern(r.URL.Path) })
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// fixedRoutes are the exact-match paths the mux serves.
var fixedRoutes = map[string]struct{}{
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
	"/v1/info":          {},
	"/v1/auth/login":    {},
	"/v1/auth/refresh":  {},
	"/v1/auth/logout":   {},
	"/v1/auth/profile":  {},
	"/v1/auth/password": {},
	"/v1/auth/sessions": {},
	"/v1/users":         {},
	"/v1/roles":         {},
}

// routePattern collapses a request path onto its route template so metric
// labels stay bounded: resource ids become {id} and unrecognized paths all
// share one bucket.
func routePattern(path string) string {
	if _, ok := fixedRoutes[path]; ok {
		return path
	}
	switch {
	case strings.HasPrefix(path, "/v1/auth/sessions/"):
		if rest := strings.TrimPrefix(path, "/v1/auth/sessions/"); !strings.Contains(rest, "/") {
			return "/v1/auth/sessions/{id}"
		}
	case strings.HasPrefix(path, "/v1/users/"):
		switch rest := strings.TrimPrefix(path, "/v1/users/"); {
		case !strings.Contains(rest, "/"):
			return "/v1/users/{id}"
		case strings.HasSuffix(rest, "/password") && strings.Count(rest, "/") == 1:
			return "/v1/users/{id}/password"
		case strings.HasSuffix(rest, "/unlock") && strings.Count(rest, "/") == 1:
			return "/v1/users/{id}/unlock"
		}
	case strings.HasPrefix(path, "/v1/roles/"):
		switch rest := strings.TrimPrefix(path, "/v1/roles/"); {
		case !strings.Contains(rest, "/"):
			return "/v1/roles/{id}"
		case strings.HasSuffix(rest, "/permissions") && strings.Count(rest, "/") == 1:
			return "/v1/roles/{id}/permissions"
		}
	}
	return "unmatched"
}

// --- service endpoints ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "villagegrid-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "villagegrid-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAuthError maps the error taxonomy onto HTTP codes. Authentication
// failures deliberately share one message; only the lock deadline is
// disclosed.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", locked.Until.UTC().Format(http.TimeFormat))
		payload := map[string]any{
			"error":        "account locked",
			"locked_until": locked.Until.UTC().Format(time.RFC3339),
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusForbidden, payload)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusForbidden, "account locked")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account is deactivated")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrSessionExpired):
		writeError(w, r, http.StatusUnauthorized, "session expired")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
