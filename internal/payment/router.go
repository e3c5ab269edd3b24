package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/config"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/metrics"
	"kasirpro/backend/internal/store"
)

const (
	GatewaySquare   = "square"
	GatewayMidtrans = "midtrans"

	defaultTimeout = 15 * time.Second
)

type Scope string

const (
	ScopeCash     Scope = "cash"
	ScopeMerchant Scope = "merchant"
	ScopeGlobal   Scope = "global"
)

// Mode is the resolved way a sale collects payment.
type Mode struct {
	Gateway     string
	Scope       Scope
	MerchantID  string
	Credentials domain.GatewayCredentials
}

func CashMode() Mode {
	return Mode{Scope: ScopeCash}
}

func (m Mode) Cash() bool {
	return m.Gateway == ""
}

// Method is the value stored as the transaction payment method.
func (m Mode) Method() string {
	if m.Cash() {
		return domain.PaymentMethodCash
	}
	return m.Gateway
}

type ChargeRequest struct {
	TransactionID string
	Invoice       string
	Amount        int64
	CustomerID    string
	PaymentSource string
}

type ChargeResult struct {
	Reference  string `json:"reference"`
	PaymentURL string `json:"payment_url,omitempty"`
}

// Gateway is one external payment provider.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, creds domain.GatewayCredentials, req ChargeRequest) (ChargeResult, error)
}

type Router struct {
	merchants store.MerchantRepository
	global    map[string]domain.GatewayCredentials
	gateways  map[string]Gateway
	timeout   time.Duration
	metrics   *metrics.Settlement
	log       *logger.Logger
}

func NewRouter(merchants store.MerchantRepository, global map[string]domain.GatewayCredentials, timeout time.Duration, m *metrics.Settlement, log *logger.Logger, gateways ...Gateway) *Router {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	registry := make(map[string]Gateway, len(gateways))
	for _, gw := range gateways {
		if gw != nil {
			registry[strings.ToLower(gw.Name())] = gw
		}
	}
	if global == nil {
		global = map[string]domain.GatewayCredentials{}
	}
	return &Router{
		merchants: merchants,
		global:    global,
		gateways:  registry,
		timeout:   timeout,
		metrics:   m,
		log:       log,
	}
}

// GlobalCredentials builds the platform-wide fallback from configuration.
// Only gateways listed in GATEWAY_ENABLED are enabled.
func GlobalCredentials(cfg config.Config) map[string]domain.GatewayCredentials {
	global := map[string]domain.GatewayCredentials{
		GatewaySquare: {
			Enabled:     cfg.Gateway.GatewayEnabled(GatewaySquare),
			Environment: cfg.Square.Env,
			ServerKey:   cfg.Square.AccessToken,
			LocationID:  cfg.Square.LocationID,
			Currency:    cfg.Square.Currency,
		},
		GatewayMidtrans: {
			Enabled:     cfg.Gateway.GatewayEnabled(GatewayMidtrans),
			Environment: cfg.Midtrans.Env,
			ServerKey:   cfg.Midtrans.ServerKey,
		},
	}
	return global
}

// Resolve picks cash, the store's default merchant credentials, or the global
// fallback. A store that has a merchant mapping never falls back to global.
func (r *Router) Resolve(ctx context.Context, storeID string, requested string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(requested))
	if name == "" || name == domain.PaymentMethodCash {
		return CashMode(), nil
	}
	if _, ok := r.gateways[name]; !ok {
		return Mode{}, notConfigured(storeID, name, "gateway is not supported")
	}

	merchant, err := r.merchants.DefaultMerchant(ctx, storeID)
	switch {
	case err == nil:
		creds, ok := merchant.Gateways[name]
		if !ok || !creds.Enabled {
			return Mode{}, notConfigured(storeID, name, "gateway is not enabled for the store merchant").With("merchant", merchant.ID)
		}
		return Mode{Gateway: name, Scope: ScopeMerchant, MerchantID: merchant.ID, Credentials: creds}, nil
	case !errors.Is(err, store.ErrNotFound):
		return Mode{}, apperr.Wrap(apperr.CodeDependency, err, "merchant lookup failed")
	}

	creds, ok := r.global[name]
	if !ok || !creds.Enabled {
		return Mode{}, notConfigured(storeID, name, "gateway is not enabled")
	}
	return Mode{Gateway: name, Scope: ScopeGlobal, Credentials: creds}, nil
}

// Charge calls the resolved gateway under the configured timeout. Every
// failure, a timeout included, comes back as GATEWAY_ERROR.
func (r *Router) Charge(ctx context.Context, tx domain.Transaction, mode Mode, source string) (ChargeResult, error) {
	if mode.Cash() {
		return ChargeResult{}, apperr.New(apperr.CodeValidation, "cash sales are not charged through a gateway")
	}
	gw, ok := r.gateways[mode.Gateway]
	if !ok {
		return ChargeResult{}, notConfigured(tx.StoreID, mode.Gateway, "gateway is not supported")
	}

	chargeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	result, err := gw.Charge(chargeCtx, mode.Credentials, ChargeRequest{
		TransactionID: tx.ID,
		Invoice:       tx.Invoice,
		Amount:        tx.GrandTotal,
		CustomerID:    tx.CustomerID,
		PaymentSource: source,
	})
	if err == nil && chargeCtx.Err() != nil {
		err = chargeCtx.Err()
	}

	logCtx := r.log.WithFields(ctx, map[string]any{
		"gateway":        mode.Gateway,
		"scope":          string(mode.Scope),
		"transaction_id": tx.ID,
		"invoice":        tx.Invoice,
		"elapsed_ms":     time.Since(started).Milliseconds(),
	})
	if err != nil {
		r.metrics.ObserveGateway(mode.Gateway, "error")
		r.log.Warn(logCtx, "gateway charge failed", err)
		message := "payment gateway request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("payment gateway timed out after %s", r.timeout)
		}
		return ChargeResult{}, apperr.Wrap(apperr.CodeGatewayError, err, message).WithDetails(map[string]any{
			"gateway":     mode.Gateway,
			"transaction": tx.ID,
			"invoice":     tx.Invoice,
		})
	}

	r.metrics.ObserveGateway(mode.Gateway, "ok")
	r.log.Info(logCtx, "gateway charge accepted")
	return result, nil
}

func notConfigured(storeID string, gateway string, message string) *apperr.Error {
	return apperr.New(apperr.CodeGatewayNotConfigured, message).WithDetails(map[string]any{
		"store":   storeID,
		"gateway": gateway,
	})
}
