package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirpro/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyCart         = errors.New("no active cart lines")
	ErrActiveCartExists  = errors.New("owner has active cart lines")
	ErrAlreadyConverted  = errors.New("appointment already converted")
	ErrDuplicateInvoice  = errors.New("duplicate invoice")
	ErrInvalidInput      = errors.New("invalid input")
)

// StockShortageError is returned when a product line cannot be covered by the
// on-hand quantity read inside the commit.
type StockShortageError struct {
	LineID    string
	ProductID string
	Requested int
	Available int
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockShortageError) Unwrap() error {
	return ErrInsufficientStock
}

type CatalogReader interface {
	GetCatalogItem(ctx context.Context, kind domain.ItemKind, id string) (*domain.CatalogItem, error)
}

type StockRepository interface {
	GetStockLevel(ctx context.Context, productID string) (int, error)
	IncreaseStock(ctx context.Context, productID string, qty int) (int, error)
}

type CartRepository interface {
	ListCartLines(ctx context.Context, owner string, held bool) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, owner string, lineID string) (*domain.CartLine, error)
	FindActiveLine(ctx context.Context, owner string, kind domain.ItemKind, catalogID string, staffID string) (*domain.CartLine, error)
	// InsertCartLine stores a new active line. A concurrent insert of the same
	// item merges into the existing line by quantity.
	InsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error)
	UpdateCartLineQuantity(ctx context.Context, owner string, lineID string, qty int) (*domain.CartLine, error)
	DeleteCartLine(ctx context.Context, owner string, lineID string) error
	HoldActiveLines(ctx context.Context, owner string, holdID string, label string, heldAt time.Time) ([]domain.CartLine, error)
	ResumeHold(ctx context.Context, owner string, holdID string) ([]domain.CartLine, error)
	DeleteHold(ctx context.Context, owner string, holdID string) (int, error)
}

type AppointmentRepository interface {
	GetAppointment(ctx context.Context, id string) (*domain.Appointment, error)
	TransactionIDForAppointment(ctx context.Context, appointmentID string) (string, error)
	MarkAppointmentSettled(ctx context.Context, appointmentID string, at time.Time) (bool, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
}

type MerchantRepository interface {
	DefaultMerchant(ctx context.Context, storeID string) (*domain.Merchant, error)
}

// SaleCommit carries everything the atomic commit needs besides the cart
// lines, which are re-read and locked inside the storage transaction.
type SaleCommit struct {
	TransactionID string
	Invoice       string
	StoreID       string
	Owner         string
	CustomerID    string
	AppointmentID string
	MerchantID    string
	PaymentMethod string
	PaymentStatus string
	Discount      int64
	Cash          int64
	CreatedAt     time.Time
}

func (c SaleCommit) CashSale() bool {
	return c.PaymentMethod == domain.PaymentMethodCash
}

type SettlementRepository interface {
	CommitSale(ctx context.Context, commit SaleCommit) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	AttachPayment(ctx context.Context, transactionID string, reference string, url string) (*domain.Transaction, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CatalogReader
	StockRepository
	CartRepository
	AppointmentRepository
	MerchantRepository
	SettlementRepository
	UserRepository
}
