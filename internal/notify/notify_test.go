package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirpro/backend/internal/config"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/metrics"
)

type recordingHandler struct {
	name  string
	err   error
	panic bool
	block bool

	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(ctx context.Context, event Event) error {
	if h.panic {
		panic("boom")
	}
	if h.block {
		<-ctx.Done()
		return ctx.Err()
	}
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) seen() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func waitDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatcherIsolatesFailingHandlers(t *testing.T) {
	reg := prometheus.NewRegistry()
	good := &recordingHandler{name: "good"}
	failing := &recordingHandler{name: "failing", err: errors.New("provider down")}
	panicking := &recordingHandler{name: "panicking", panic: true}
	slow := &recordingHandler{name: "slow", block: true}

	d := NewDispatcher(50*time.Millisecond, metrics.NewSettlement(reg), nil, good, failing, panicking, slow)

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, []Event{
		{Type: EventSaleCommitted, Transaction: &domain.Transaction{ID: "tx-1"}},
		{Type: EventAppointmentCompleted, AppointmentID: "apt-1"},
	})
	cancel() // request finished; handlers keep running
	waitDispatcher(t, d)

	assert.Len(t, good.seen(), 2)
	assert.Len(t, failing.seen(), 2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	failures := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "notify_handler_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "handler" {
					failures[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), failures["failing"])
	assert.Equal(t, float64(2), failures["panicking"])
	assert.Equal(t, float64(2), failures["slow"])
	assert.Zero(t, failures["good"])
}

func TestDispatcherWithoutHandlersIsNoop(t *testing.T) {
	d := NewDispatcher(0, nil, nil)
	d.Publish(context.Background(), []Event{{Type: EventSaleCommitted}})
	waitDispatcher(t, d)

	var nilDispatcher *Dispatcher
	nilDispatcher.Publish(context.Background(), []Event{{Type: EventSaleCommitted}})
}

type fakeChannel struct {
	name      string
	needPhone bool
	err       error
	sent      []Receipt
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Addressable(r Receipt) bool { return !c.needPhone || r.Phone != "" }

func (c *fakeChannel) Send(_ context.Context, r Receipt) error {
	c.sent = append(c.sent, r)
	return c.err
}

type customerMap map[string]domain.Customer

func (m customerMap) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	c, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &c, nil
}

func sampleTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:            "tx-9",
		Invoice:       "KP7H2M9QXA",
		CustomerID:    "cus-1",
		Subtotal:      185000,
		GrandTotal:    185000,
		CashTendered:  200000,
		ChangeGiven:   15000,
		PaymentMethod: domain.PaymentMethodCash,
		PaymentStatus: domain.PaymentStatusPaid,
		Lines: []domain.TransactionLine{
			{Name: "Pomade", Quantity: 1, Price: 85000, Total: 85000},
			{Name: "Creambath", Quantity: 1, Price: 100000, Total: 100000},
		},
	}
}

func TestReceiptHandlerAttemptsEveryChannel(t *testing.T) {
	first := &fakeChannel{name: "email", err: errors.New("rejected")}
	skipped := &fakeChannel{name: "sms", needPhone: true}
	last := &fakeChannel{name: "stream"}
	customers := customerMap{"cus-1": {ID: "cus-1", Name: "Sari", Email: "sari@example.com"}}

	h := NewReceiptHandler(customers, "KasirPro", nil, first, skipped, last)
	err := h.Handle(context.Background(), Event{Type: EventSaleCommitted, Transaction: sampleTransaction()})

	require.Error(t, err)
	assert.Equal(t, []string{"email"}, failedChannels(err))
	assert.Len(t, first.sent, 1)
	assert.Empty(t, skipped.sent, "customer without phone is skipped")
	require.Len(t, last.sent, 1)
	assert.Equal(t, "Sari", last.sent[0].CustomerName)
	assert.Equal(t, "Rp185.000", last.sent[0].GrandTotal)
	assert.Equal(t, "Rp15.000", last.sent[0].Change)
}

func TestReceiptHandlerIgnoresOtherEvents(t *testing.T) {
	ch := &fakeChannel{name: "stream"}
	h := NewReceiptHandler(nil, "KasirPro", nil, ch)
	require.NoError(t, h.Handle(context.Background(), Event{Type: EventAppointmentCompleted, AppointmentID: "apt-1"}))
	assert.Empty(t, ch.sent)
}

func TestReceiptHandlerResendsWithPaymentLink(t *testing.T) {
	ch := &fakeChannel{name: "stream"}
	h := NewReceiptHandler(nil, "KasirPro", nil, ch)

	tx := sampleTransaction()
	tx.PaymentMethod = "midtrans"
	tx.PaymentStatus = domain.PaymentStatusPending
	tx.CashTendered, tx.ChangeGiven = 0, 0
	tx.PaymentReference = "snap-token"
	tx.PaymentURL = "https://pay.example/snap"

	require.NoError(t, h.Handle(context.Background(), Event{Type: EventPaymentLinked, Transaction: tx}))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "https://pay.example/snap", ch.sent[0].PaymentURL)
	assert.Contains(t, ch.sent[0].Text(), "https://pay.example/snap")
}

func TestFormatRupiah(t *testing.T) {
	cases := map[int64]string{
		0:       "Rp0",
		500:     "Rp500",
		1000:    "Rp1.000",
		100000:  "Rp100.000",
		1250000: "Rp1.250.000",
		-25000:  "-Rp25.000",
	}
	for amount, want := range cases {
		assert.Equal(t, want, FormatRupiah(amount))
	}
}

func TestEmailChannelPostsWithBearer(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"mail-1"}`))
	}))
	defer server.Close()

	ch := NewEmailChannel(server.URL, "re_key", "receipts@kasirpro.local", time.Second)
	receipt := BuildReceipt("KasirPro", *sampleTransaction(), &domain.Customer{Name: "Sari", Email: "sari@example.com"})
	require.True(t, ch.Addressable(receipt))
	require.NoError(t, ch.Send(context.Background(), receipt))

	assert.Equal(t, []string{"sari@example.com"}, got.To)
	assert.Contains(t, got.Subject, "KP7H2M9QXA")
	assert.Contains(t, got.Text, "Total: Rp185.000")
}

func TestMessageChannelReportsProviderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body messageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "whatsapp", body.Channel)
		assert.Equal(t, "+628123456789", body.To)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch := NewMessageChannel(ChannelWhatsApp, server.URL, "tok", time.Second)
	receipt := BuildReceipt("KasirPro", *sampleTransaction(), &domain.Customer{Phone: "+628123456789"})
	err := ch.Send(context.Background(), receipt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestChannelsFromConfig(t *testing.T) {
	_, err := ChannelsFromConfig(config.NotifyConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoChannels)

	channels, err := ChannelsFromConfig(config.NotifyConfig{
		Channels:      []string{"email", "sms", "stream", "pigeon"},
		EmailEndpoint: "https://mail.example",
		EmailAPIKey:   "key",
		MessageURL:    "https://sms.example",
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
	assert.Contains(t, err.Error(), "pigeon")
	require.Len(t, channels, 2)
	assert.Equal(t, ChannelEmail, channels[0].Name())
	assert.Equal(t, ChannelSMS, channels[1].Name())
}

func TestStreamChannelAppendsReceipt(t *testing.T) {
	addr := os.Getenv("KASIRPRO_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KASIRPRO_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	stream := "kasirpro:test:receipts:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(ctx, stream) })

	ch := NewStreamChannel(client, stream)
	require.NoError(t, ch.Send(ctx, BuildReceipt("KasirPro", *sampleTransaction(), nil)))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "KP7H2M9QXA", entries[0].Values["invoice"])
}
