package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/models"
	"github.com/NorhanGamalY/Queue-Management-System-Backend/internal/store"
)

type principalContextKey struct{}

// PrincipalLookup resolves a session token to the acting principal.
type PrincipalLookup interface {
	GetPrincipal(ctx context.Context, sessionID string) (models.Principal, error)
}

// AuthMiddleware attaches the authenticated principal to the request context.
// Access decisions happen in the handlers through the principal's capability
// predicate, not here.
func AuthMiddleware(lookup PrincipalLookup, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		principal, err := lookup.GetPrincipal(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) (models.Principal, bool) {
	value := ctx.Value(principalContextKey{})
	if value == nil {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}

// ContextWithPrincipal is used by the realtime endpoint, which authenticates
// outside the middleware chain.
func ContextWithPrincipal(ctx context.Context, principal models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func requireBusinessAccess(w http.ResponseWriter, r *http.Request, businessID string) bool {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing session")
		return false
	}
	if !principal.CanActOn(businessID) {
		writeError(w, r, http.StatusForbidden, "access_denied", "business access denied")
		return false
	}
	return true
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/queues/active":
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
