package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bitnest/ledger-service/internal/app"
	"github.com/bitnest/ledger-service/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	accountIDKey    contextKey = "accountID"
	accountEmailKey contextKey = "accountEmail"
	sessionTokenKey contextKey = "sessionToken"
)

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if token := strings.TrimPrefix(authHeader, "Bearer "); token != authHeader {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on websocket upgrades.
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

// AuthMiddleware validates the session token and loads (or creates) the caller's account.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		claims, err := h.identity.Authenticate(r.Context(), token)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if _, err := h.service.EnsureAccount(r.Context(), claims.Subject, claims.Email); err != nil {
			h.respondError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, claims.Subject)
		ctx = context.WithValue(ctx, accountEmailKey, claims.Email)
		ctx = context.WithValue(ctx, sessionTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly rejects callers without the admin flag.
func (h *Handlers) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := GetAccountID(r.Context())
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		if _, err := h.service.RequireAdmin(r.Context(), accountID); err != nil {
			if !errors.Is(err, app.ErrAdminRequired) {
				log.Printf("level=error component=api msg=\"admin check failed\" account_id=%s err=%v", accountID, err)
			}
			h.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware records method, route pattern, status and latency of every request.
func MetricsMiddleware(m *metrics.MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveHTTPRequest(r.Method, route, status, time.Since(start))
		})
	}
}

// GetAccountID retrieves the authenticated account id from the context.
func GetAccountID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

func getSessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}
