package httpapi

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"
	"time"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/appointment"
	"kasirpro/backend/internal/cart"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/settlement"
	"kasirpro/backend/internal/stock"
)

const (
	roleAdmin   = "admin"
	roleCashier = "cashier"
)

type Deps struct {
	Cart          *cart.Service
	Appointments  *appointment.Bridge
	Settlement    *settlement.Engine
	Stock         *stock.Ledger
	Auth          *AuthManager
	Log           *logger.Logger
	Metrics       http.Handler
	Ready         func(ctx context.Context) error
	AllowedOrigin string
}

type API struct {
	cart          *cart.Service
	appointments  *appointment.Bridge
	settlement    *settlement.Engine
	stock         *stock.Ledger
	auth          *AuthManager
	log           *logger.Logger
	metrics       http.Handler
	ready         func(ctx context.Context) error
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(deps Deps) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &API{
		cart:          deps.Cart,
		appointments:  deps.Appointments,
		settlement:    deps.Settlement,
		stock:         deps.Stock,
		auth:          deps.Auth,
		log:           deps.Log,
		metrics:       deps.Metrics,
		ready:         deps.Ready,
		allowedOrigin: deps.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/cart", a.requireAuth(a.handleListCart, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/cart/products", a.requireAuth(a.handleAddProduct, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/cart/services", a.requireAuth(a.handleAddService, roleCashier, roleAdmin))
	mux.HandleFunc("PATCH /api/v1/cart/lines/{id}", a.requireAuth(a.handleUpdateLine, roleCashier, roleAdmin))
	mux.HandleFunc("DELETE /api/v1/cart/lines/{id}", a.requireAuth(a.handleRemoveLine, roleCashier, roleAdmin))

	mux.HandleFunc("GET /api/v1/carts/hold", a.requireAuth(a.handleListHeld, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/carts/hold", a.requireAuth(a.handleHold, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/carts/hold/{id}/resume", a.requireAuth(a.handleResume, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/carts/hold/{id}/discard", a.requireAuth(a.handleDiscard, roleCashier, roleAdmin))

	mux.HandleFunc("POST /api/v1/appointments/{id}/seed-cart", a.requireAuth(a.handleSeedCart, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, roleCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/transactions/{id}", a.requireAuth(a.handleTransaction, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/transactions/{id}/payment-link", a.requireAuth(a.handlePaymentLink, roleCashier, roleAdmin))
	mux.HandleFunc("POST /api/v1/stock/{product_id}/restock", a.requireAuth(a.handleRestock, roleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, r, apperr.New(apperr.CodeForbidden, "forbidden role").With("role", actor.Role))
			return
		}

		ctx := a.log.WithUserID(r.Context(), actor.Username)
		ctx = a.log.WithStoreID(ctx, actor.StoreID)
		next(w, r.WithContext(withActor(ctx, actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.writeError(w, r, apperr.Wrap(apperr.CodeDependency, err, "storage unavailable"))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, apperr.New(apperr.CodeRateLimit, "too many login attempts"))
		return
	}
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns the token clients send as X-CSRF-Token on every
// mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}
