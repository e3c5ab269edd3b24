package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
)

var midtransBaseURLs = map[string]string{
	sandboxEnv:    "https://app.sandbox.midtrans.com",
	productionEnv: "https://app.midtrans.com",
}

var errServerKeyRequired = errors.New("midtrans server key is required")

// MidtransGateway creates Snap redirect payments. The reference is the Snap
// token and the payment url is the hosted redirect page.
type MidtransGateway struct {
	client   *http.Client
	baseURLs map[string]string
	log      *logger.Logger
}

func NewMidtransGateway(timeout time.Duration, log *logger.Logger) *MidtransGateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MidtransGateway{
		client:   &http.Client{Timeout: timeout},
		baseURLs: midtransBaseURLs,
		log:      log,
	}
}

func (g *MidtransGateway) WithBaseURL(url string) *MidtransGateway {
	g.baseURLs = map[string]string{sandboxEnv: url, productionEnv: url}
	return g
}

func (g *MidtransGateway) Name() string {
	return GatewayMidtrans
}

type snapRequest struct {
	TransactionDetails snapTransaction `json:"transaction_details"`
	CustomerDetails    *snapCustomer   `json:"customer_details,omitempty"`
}

type snapTransaction struct {
	OrderID     string      `json:"order_id"`
	GrossAmount json.Number `json:"gross_amount"`
}

type snapCustomer struct {
	FirstName string `json:"first_name"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

func (g *MidtransGateway) Charge(ctx context.Context, creds domain.GatewayCredentials, req ChargeRequest) (ChargeResult, error) {
	serverKey := strings.TrimSpace(creds.ServerKey)
	if serverKey == "" {
		return ChargeResult{}, errServerKeyRequired
	}
	baseURL, ok := g.baseURLs[normalizeEnv(creds.Environment)]
	if !ok {
		return ChargeResult{}, fmt.Errorf("midtrans environment must be %q or %q", sandboxEnv, productionEnv)
	}

	body := snapRequest{
		TransactionDetails: snapTransaction{
			OrderID:     req.Invoice,
			GrossAmount: json.Number(decimal.NewFromInt(req.Amount).StringFixed(0)),
		},
	}
	if req.CustomerID != "" {
		body.CustomerDetails = &snapCustomer{FirstName: req.CustomerID}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ChargeResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(serverKey, "")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("midtrans request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("read midtrans response: %w", err)
	}
	var decoded snapResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode >= 400 {
		detail := strings.Join(decoded.ErrorMessages, "; ")
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return ChargeResult{}, fmt.Errorf("midtrans returned status %d: %s", resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return ChargeResult{}, fmt.Errorf("decode midtrans response (status %d): %w", resp.StatusCode, decodeErr)
	}
	if decoded.Token == "" {
		return ChargeResult{}, errors.New("midtrans returned no snap token")
	}

	g.log.Info(g.log.WithFields(ctx, map[string]any{
		"operation": "snap_create",
		"invoice":   req.Invoice,
		"status":    resp.StatusCode,
	}), "midtrans response")
	return ChargeResult{Reference: decoded.Token, PaymentURL: decoded.RedirectURL}, nil
}
