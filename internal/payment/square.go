package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var squareBaseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

var idempotencyNamespace = uuid.MustParse("6f1d3c2a-8b4e-4c1f-9a7d-2e5b8c0f4a61")

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errLocationRequired    = errors.New("square location id is required")
	errSourceRequired      = errors.New("square payment source is required")
)

// SquareGateway charges through the Square Payments API. Credentials come per
// call so merchant and global scopes share one gateway.
type SquareGateway struct {
	baseURLs map[string]string
	log      *logger.Logger
}

func NewSquareGateway(log *logger.Logger) *SquareGateway {
	if log == nil {
		log = logger.Nop()
	}
	return &SquareGateway{baseURLs: squareBaseURLs, log: log}
}

// WithBaseURL points every environment at url.
func (g *SquareGateway) WithBaseURL(url string) *SquareGateway {
	g.baseURLs = map[string]string{sandboxEnv: url, productionEnv: url}
	return g
}

func (g *SquareGateway) Name() string {
	return GatewaySquare
}

func (g *SquareGateway) Charge(ctx context.Context, creds domain.GatewayCredentials, req ChargeRequest) (ChargeResult, error) {
	token := strings.TrimSpace(creds.ServerKey)
	if token == "" {
		return ChargeResult{}, errAccessTokenRequired
	}
	if strings.TrimSpace(creds.LocationID) == "" {
		return ChargeResult{}, errLocationRequired
	}
	if strings.TrimSpace(req.PaymentSource) == "" {
		return ChargeResult{}, errSourceRequired
	}
	baseURL, ok := g.baseURLs[normalizeEnv(creds.Environment)]
	if !ok {
		return ChargeResult{}, fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	}

	client := sqclient.NewClient(
		sqoption.WithBaseURL(baseURL),
		sqoption.WithToken(token),
	)

	payload := &sq.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey(req.Invoice, req.PaymentSource),
		SourceID:       req.PaymentSource,
		LocationID:     ptrString(creds.LocationID),
		AmountMoney:    moneyPtr(req.Amount, creds.Currency),
		ReferenceID:    ptrString(req.Invoice),
		Note:           ptrString("Invoice " + req.Invoice),
	}

	g.log.Info(g.log.WithFields(ctx, map[string]any{
		"operation":   "create_payment",
		"location_id": creds.LocationID,
		"invoice":     req.Invoice,
		"amount":      req.Amount,
	}), "square request")

	resp, err := client.Payments.Create(ctx, payload)
	if err != nil {
		return ChargeResult{}, mapSquareError(err)
	}
	payment := resp.GetPayment()
	if payment == nil || payment.GetID() == nil {
		return ChargeResult{}, errors.New("square returned no payment")
	}

	result := ChargeResult{Reference: *payment.GetID()}
	if receipt := payment.GetReceiptURL(); receipt != nil {
		result.PaymentURL = *receipt
	}
	return result, nil
}

// idempotencyKey is stable per invoice and source so a retried charge with
// the same card cannot double collect.
func idempotencyKey(invoice string, source string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(invoice+":"+source)).String()
}

func mapSquareError(err error) error {
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("square create payment failed with status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("square create payment failed: %w", err)
}

func normalizeEnv(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return sandboxEnv
	}
	return env
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func moneyPtr(amount int64, currency string) *sq.Money {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = "IDR"
	}
	c := sq.Currency(code)
	return &sq.Money{Amount: &amount, Currency: &c}
}
