/**
 * @description
 * This file sets up the HTTP router of the ledger service. It defines the API
 * endpoints, associates them with their handlers, and applies the middleware
 * stack: access logging, panic recovery, timeouts, CORS, metrics and
 * authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 * - pkg/metrics: request metrics and the /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/bitnest/ledger-service/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handlers, m *metrics.MetricsCollector, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if m != nil {
		r.Use(MetricsMiddleware(m))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.GetHandler())
	}

	// The change stream is long-lived and must not run under the request timeout.
	r.With(h.AuthMiddleware).Get("/v1/accounts/me/stream", h.StreamAccountHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/v1/auth", func(r chi.Router) {
			r.Post("/signup", h.SignUpHandler)
			r.Post("/signin", h.SignInHandler)
			r.Post("/signout", h.SignOutHandler)
			r.Post("/password-reset", h.SendPasswordResetHandler)
			r.Post("/password-reset/confirm", h.ResetPasswordHandler)
		})
		r.Get("/v1/referrals/{code}/click", h.RecordClickHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/v1/accounts/me", h.GetMeHandler)
			r.Patch("/v1/accounts/me", h.UpdateProfileHandler)
			r.Post("/v1/accounts/me/password", h.ChangePasswordHandler)

			r.Post("/v1/loop/start", h.StartLoopHandler)
			r.Post("/v1/loop/claim", h.ClaimLoopHandler)

			r.Post("/v1/savings/deposit", h.DepositSavingsHandler)
			r.Post("/v1/savings/claim", h.ClaimSavingsHandler)
			r.Post("/v1/savings/withdraw", h.WithdrawSavingsHandler)

			r.Post("/v1/transactions/deposit", h.RequestDepositHandler)
			r.Post("/v1/transactions/withdraw", h.RequestWithdrawHandler)
			r.Get("/v1/transactions", h.ListMyTransactionsHandler)

			r.Get("/v1/team", h.TeamHandler)
			r.Post("/v1/team/link", h.LinkReferralHandler)

			r.Route("/v1/admin", func(r chi.Router) {
				r.Use(h.AdminOnly)
				r.Get("/accounts", h.AdminListAccountsHandler)
				r.Post("/accounts/{id}/actions", h.AdminActionHandler)
				r.Get("/transactions", h.AdminListTransactionsHandler)
				r.Post("/transactions/{id}/{resolution}", h.AdminResolveTransactionHandler)
			})
		})
	})

	return r
}
