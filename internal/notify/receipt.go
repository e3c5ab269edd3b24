package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
)

// Channel delivers a rendered receipt to one medium.
type Channel interface {
	Name() string
	// Addressable reports whether the receipt carries an address for this
	// channel. Receipts without one are skipped.
	Addressable(r Receipt) bool
	Send(ctx context.Context, r Receipt) error
}

type CustomerLookup interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

type ReceiptLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Total    string `json:"total"`
}

type Receipt struct {
	StoreName     string        `json:"store_name"`
	TransactionID string        `json:"transaction_id"`
	Invoice       string        `json:"invoice"`
	CustomerName  string        `json:"customer_name,omitempty"`
	Email         string        `json:"email,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Lines         []ReceiptLine `json:"lines"`
	Subtotal      string        `json:"subtotal"`
	Discount      string        `json:"discount"`
	GrandTotal    string        `json:"grand_total"`
	Cash          string        `json:"cash,omitempty"`
	Change        string        `json:"change,omitempty"`
	PaymentMethod string        `json:"payment_method"`
	PaymentStatus string        `json:"payment_status"`
	PaymentURL    string        `json:"payment_url,omitempty"`
	IssuedAt      time.Time     `json:"issued_at"`
}

// ReceiptHandler sends the receipt of a committed sale on every configured
// channel. One failing channel does not stop the others.
type ReceiptHandler struct {
	customers CustomerLookup
	channels  []Channel
	storeName string
	log       *logger.Logger
}

func NewReceiptHandler(customers CustomerLookup, storeName string, log *logger.Logger, channels ...Channel) *ReceiptHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ReceiptHandler{customers: customers, channels: channels, storeName: storeName, log: log}
}

func (h *ReceiptHandler) Name() string {
	return "receipt"
}

// receiptEvent reports whether the customer gets a receipt for eventType. A
// retried payment link sends the receipt again with the new pay url.
func receiptEvent(eventType string) bool {
	return eventType == EventSaleCommitted || eventType == EventPaymentLinked
}

func (h *ReceiptHandler) Handle(ctx context.Context, event Event) error {
	if !receiptEvent(event.Type) || event.Transaction == nil || len(h.channels) == 0 {
		return nil
	}
	var customer *domain.Customer
	if id := event.Transaction.CustomerID; id != "" && h.customers != nil {
		found, err := h.customers.GetCustomer(ctx, id)
		if err != nil {
			h.log.Warn(h.log.WithField(ctx, "customer_id", id), "receipt customer lookup failed", err)
		} else {
			customer = found
		}
	}
	receipt := BuildReceipt(h.storeName, *event.Transaction, customer)

	var errs error
	for _, ch := range h.channels {
		if !ch.Addressable(receipt) {
			h.log.Debug(h.log.WithFields(ctx, map[string]any{"channel": ch.Name(), "invoice": receipt.Invoice}), "receipt channel skipped")
			continue
		}
		if err := ch.Send(ctx, receipt); err != nil {
			errs = multierr.Append(errs, &ChannelError{Channel: ch.Name(), Err: err})
		}
	}
	return errs
}

func BuildReceipt(storeName string, tx domain.Transaction, customer *domain.Customer) Receipt {
	r := Receipt{
		StoreName:     storeName,
		TransactionID: tx.ID,
		Invoice:       tx.Invoice,
		Lines:         make([]ReceiptLine, 0, len(tx.Lines)),
		Subtotal:      FormatRupiah(tx.Subtotal),
		Discount:      FormatRupiah(tx.Discount),
		GrandTotal:    FormatRupiah(tx.GrandTotal),
		PaymentMethod: tx.PaymentMethod,
		PaymentStatus: tx.PaymentStatus,
		PaymentURL:    tx.PaymentURL,
		IssuedAt:      tx.CreatedAt,
	}
	if tx.PaymentMethod == domain.PaymentMethodCash {
		r.Cash = FormatRupiah(tx.CashTendered)
		r.Change = FormatRupiah(tx.ChangeGiven)
	}
	if customer != nil {
		r.CustomerName = customer.Name
		r.Email = strings.TrimSpace(customer.Email)
		r.Phone = strings.TrimSpace(customer.Phone)
	}
	for _, line := range tx.Lines {
		r.Lines = append(r.Lines, ReceiptLine{
			Name:     line.Name,
			Quantity: line.Quantity,
			Price:    FormatRupiah(line.Price),
			Total:    FormatRupiah(line.Total),
		})
	}
	return r
}

// Text renders the receipt as a plain message body.
func (r Receipt) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\nInvoice %s\n", r.StoreName, r.Invoice)
	if r.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", r.CustomerName)
	}
	b.WriteString("\n")
	for _, line := range r.Lines {
		fmt.Fprintf(&b, "%dx %s @ %s = %s\n", line.Quantity, line.Name, line.Price, line.Total)
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\n", r.Subtotal)
	if r.Discount != FormatRupiah(0) {
		fmt.Fprintf(&b, "Discount: %s\n", r.Discount)
	}
	fmt.Fprintf(&b, "Total: %s\n", r.GrandTotal)
	if r.Cash != "" {
		fmt.Fprintf(&b, "Cash: %s\nChange: %s\n", r.Cash, r.Change)
	}
	if r.PaymentURL != "" {
		fmt.Fprintf(&b, "Pay here: %s\n", r.PaymentURL)
	}
	return b.String()
}

// FormatRupiah renders whole rupiah with dot thousand separators, e.g.
// "Rp100.000".
func FormatRupiah(amount int64) string {
	value := decimal.NewFromInt(amount)
	digits := value.Abs().StringFixed(0)

	var b strings.Builder
	if value.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteString("Rp")
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
