package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/config"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store/memory"
)

type fakeGateway struct {
	name   string
	result ChargeResult
	err    error
	delay  time.Duration
	calls  int
	creds  domain.GatewayCredentials
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) Charge(ctx context.Context, creds domain.GatewayCredentials, _ ChargeRequest) (ChargeResult, error) {
	f.calls++
	f.creds = creds
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ChargeResult{}, ctx.Err()
		}
	}
	return f.result, f.err
}

func TestResolveCashWhenNoGateway(t *testing.T) {
	router := NewRouter(memory.NewSeeded(), nil, time.Second, nil, nil, &fakeGateway{name: "square"})

	for _, requested := range []string{"", "  ", "cash", "CASH"} {
		mode, err := router.Resolve(context.Background(), memory.SeedStoreID, requested)
		require.NoError(t, err)
		assert.True(t, mode.Cash())
		assert.Equal(t, domain.PaymentMethodCash, mode.Method())
	}
}

func TestResolveMerchantScope(t *testing.T) {
	repo := memory.NewSeeded()
	repo.PutMerchant(domain.Merchant{
		ID: "mch-1", StoreID: memory.SeedStoreID, IsDefault: true,
		Gateways: map[string]domain.GatewayCredentials{
			"square":   {Enabled: true, ServerKey: "merchant-token", LocationID: "LOC-M"},
			"midtrans": {Enabled: false, ServerKey: "sk"},
		},
	})
	global := map[string]domain.GatewayCredentials{"midtrans": {Enabled: true, ServerKey: "global-sk"}}
	router := NewRouter(repo, global, time.Second, nil, nil, &fakeGateway{name: "square"}, &fakeGateway{name: "midtrans"})
	ctx := context.Background()

	mode, err := router.Resolve(ctx, memory.SeedStoreID, "Square")
	require.NoError(t, err)
	assert.Equal(t, ScopeMerchant, mode.Scope)
	assert.Equal(t, "mch-1", mode.MerchantID)
	assert.Equal(t, "merchant-token", mode.Credentials.ServerKey)

	_, err = router.Resolve(ctx, memory.SeedStoreID, "midtrans")
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperr.CodeGatewayNotConfigured, appErr.Code())
	assert.Equal(t, "mch-1", appErr.Details()["merchant"], "mapped store must not fall back to global")
}

func TestResolveGlobalFallback(t *testing.T) {
	global := map[string]domain.GatewayCredentials{"midtrans": {Enabled: true, ServerKey: "global-sk"}}
	router := NewRouter(memory.NewSeeded(), global, time.Second, nil, nil, &fakeGateway{name: "square"}, &fakeGateway{name: "midtrans"})
	ctx := context.Background()

	mode, err := router.Resolve(ctx, memory.SeedStoreID, "midtrans")
	require.NoError(t, err)
	assert.Equal(t, ScopeGlobal, mode.Scope)
	assert.Equal(t, "global-sk", mode.Credentials.ServerKey)

	_, err = router.Resolve(ctx, memory.SeedStoreID, "square")
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperr.CodeGatewayNotConfigured, appErr.Code())
	assert.Equal(t, memory.SeedStoreID, appErr.Details()["store"])
	assert.Equal(t, "square", appErr.Details()["gateway"])

	_, err = router.Resolve(ctx, memory.SeedStoreID, "paypal")
	assert.Equal(t, apperr.CodeGatewayNotConfigured, apperr.CodeOf(err))
}

func TestChargeWrapsFailuresAsGatewayError(t *testing.T) {
	failing := &fakeGateway{name: "square", err: errors.New("card declined")}
	router := NewRouter(memory.NewSeeded(), nil, time.Second, nil, nil, failing)
	tx := domain.Transaction{ID: "tx-1", Invoice: "INV0000001", StoreID: memory.SeedStoreID, GrandTotal: 50000}

	_, err := router.Charge(context.Background(), tx, Mode{Gateway: "square", Scope: ScopeGlobal}, "cnon:card")
	appErr := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperr.CodeGatewayError, appErr.Code())
	assert.Equal(t, "tx-1", appErr.Details()["transaction"])
	assert.Equal(t, "INV0000001", appErr.Details()["invoice"])
	assert.Equal(t, 1, failing.calls)
}

func TestChargeTimesOut(t *testing.T) {
	slow := &fakeGateway{name: "midtrans", delay: time.Second}
	router := NewRouter(memory.NewSeeded(), nil, 20*time.Millisecond, nil, nil, slow)
	tx := domain.Transaction{ID: "tx-2", Invoice: "INV0000002", GrandTotal: 10000}

	started := time.Now()
	_, err := router.Charge(context.Background(), tx, Mode{Gateway: "midtrans"}, "")
	assert.Equal(t, apperr.CodeGatewayError, apperr.CodeOf(err))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChargeSuccessPassesCredentials(t *testing.T) {
	gw := &fakeGateway{name: "square", result: ChargeResult{Reference: "pay-1", PaymentURL: "https://receipt"}}
	router := NewRouter(memory.NewSeeded(), nil, time.Second, nil, nil, gw)
	mode := Mode{Gateway: "square", Scope: ScopeMerchant, Credentials: domain.GatewayCredentials{ServerKey: "tok"}}

	result, err := router.Charge(context.Background(), domain.Transaction{ID: "tx-3", Invoice: "INV3"}, mode, "cnon:ok")
	require.NoError(t, err)
	assert.Equal(t, "pay-1", result.Reference)
	assert.Equal(t, "tok", gw.creds.ServerKey)
}

func TestGlobalCredentialsFromConfig(t *testing.T) {
	var cfg config.Config
	cfg.Gateway.Enabled = []string{"midtrans"}
	cfg.Midtrans.ServerKey = "sk"
	cfg.Square.AccessToken = "tok"

	global := GlobalCredentials(cfg)
	assert.True(t, global["midtrans"].Enabled)
	assert.False(t, global["square"].Enabled)
	assert.Equal(t, "tok", global["square"].ServerKey)
}
