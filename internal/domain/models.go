package domain

import "time"

type ItemKind string

const (
	KindProduct ItemKind = "product"
	KindService ItemKind = "service"
)

const (
	PaymentMethodCash = "cash"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
)

const (
	AppointmentScheduled  = "scheduled"
	AppointmentInProgress = "in_progress"
	AppointmentCompleted  = "completed"
	AppointmentCancelled  = "cancelled"

	AppointmentUnpaid = "unpaid"
	AppointmentPaid   = "paid"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	StoreID  string `json:"store_id"`
}

type CatalogItem struct {
	ID              string   `json:"id"`
	StoreID         string   `json:"store_id"`
	Kind            ItemKind `json:"kind"`
	Name            string   `json:"name"`
	Price           int64    `json:"price"`
	BuyPrice        int64    `json:"buy_price,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	RequiresStaff   bool     `json:"requires_staff,omitempty"`
}

type StockLevel struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CartLine struct {
	ID            string     `json:"id"`
	Owner         string     `json:"owner"`
	StoreID       string     `json:"store_id"`
	Kind          ItemKind   `json:"kind"`
	CatalogID     string     `json:"catalog_id"`
	Name          string     `json:"name"`
	StaffID       string     `json:"staff_id,omitempty"`
	Quantity      int        `json:"quantity"`
	UnitPrice     int64      `json:"unit_price"`
	UnitDuration  int        `json:"unit_duration,omitempty"`
	LineTotal     int64      `json:"line_total"`
	Duration      int        `json:"duration,omitempty"`
	HoldID        string     `json:"hold_id,omitempty"`
	HoldLabel     string     `json:"hold_label,omitempty"`
	HeldAt        *time.Time `json:"held_at,omitempty"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (l CartLine) Active() bool {
	return l.HoldID == ""
}

// SameItem reports whether two lines describe the same (kind, catalog, staff)
// item and would merge in one basket.
func (l CartLine) SameItem(other CartLine) bool {
	return l.Kind == other.Kind && l.CatalogID == other.CatalogID && l.StaffID == other.StaffID
}

// WithQuantity sets the quantity and rederives the line total and duration.
func (l CartLine) WithQuantity(qty int) CartLine {
	l.Quantity = qty
	l.LineTotal = l.UnitPrice * int64(qty)
	l.Duration = l.UnitDuration * qty
	return l
}

type ActiveCart struct {
	Owner         string     `json:"owner"`
	Lines         []CartLine `json:"lines"`
	ItemCount     int        `json:"item_count"`
	Total         int64      `json:"total"`
	Duration      int        `json:"duration"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
}

type HoldGroup struct {
	HoldID        string     `json:"hold_id"`
	Label         string     `json:"label"`
	HeldAt        time.Time  `json:"held_at"`
	ItemCount     int        `json:"item_count"`
	Total         int64      `json:"total"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	Lines         []CartLine `json:"lines"`
}

type ResumeResult struct {
	HoldID        string     `json:"hold_id"`
	AppointmentID string     `json:"appointment_id,omitempty"`
	CustomerID    string     `json:"customer_id,omitempty"`
	Lines         []CartLine `json:"lines"`
}

type Transaction struct {
	ID               string            `json:"id"`
	Invoice          string            `json:"invoice"`
	StoreID          string            `json:"store_id"`
	CashierID        string            `json:"cashier_id"`
	CustomerID       string            `json:"customer_id,omitempty"`
	AppointmentID    string            `json:"appointment_id,omitempty"`
	MerchantID       string            `json:"merchant_id,omitempty"`
	Subtotal         int64             `json:"subtotal"`
	Discount         int64             `json:"discount"`
	GrandTotal       int64             `json:"grand_total"`
	CashTendered     int64             `json:"cash_tendered"`
	ChangeGiven      int64             `json:"change_given"`
	PaymentMethod    string            `json:"payment_method"`
	PaymentStatus    string            `json:"payment_status"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	PaymentURL       string            `json:"payment_url,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Lines            []TransactionLine `json:"lines"`
	Profits          []ProfitRecord    `json:"profits,omitempty"`
}

type TransactionLine struct {
	ID        string   `json:"id"`
	Kind      ItemKind `json:"kind"`
	CatalogID string   `json:"catalog_id"`
	Name      string   `json:"name"`
	StaffID   string   `json:"staff_id,omitempty"`
	Quantity  int      `json:"quantity"`
	Price     int64    `json:"price"`
	Duration  int      `json:"duration,omitempty"`
	Total     int64    `json:"total"`
}

type ProfitRecord struct {
	LineID    string   `json:"line_id"`
	Kind      ItemKind `json:"kind"`
	CatalogID string   `json:"catalog_id"`
	Quantity  int      `json:"quantity"`
	SellPrice int64    `json:"sell_price"`
	BuyPrice  int64    `json:"buy_price"`
	Total     int64    `json:"total"`
}

type Appointment struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Services      []BookedService `json:"services"`
}

type BookedService struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	StaffID         string `json:"staff_id,omitempty"`
	Price           int64  `json:"price"`
	DurationMinutes int    `json:"duration_minutes"`
}

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type GatewayCredentials struct {
	Enabled     bool   `json:"enabled"`
	Environment string `json:"environment,omitempty"`
	ServerKey   string `json:"-"`
	LocationID  string `json:"location_id,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type Merchant struct {
	ID        string                        `json:"id"`
	StoreID   string                        `json:"store_id"`
	Name      string                        `json:"name"`
	IsDefault bool                          `json:"is_default"`
	Gateways  map[string]GatewayCredentials `json:"gateways"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	StoreID   string    `json:"store_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id"`
	ExpiresAt   string `json:"expires_at"`
}

type AddProductRequest struct {
	CatalogID string `json:"catalog_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type AddServiceRequest struct {
	CatalogID string `json:"catalog_id" validate:"required"`
	StaffID   string `json:"staff_id"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type UpdateLineRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

type HoldRequest struct {
	Label string `json:"label" validate:"max=80"`
}

type RestockRequest struct {
	Quantity int `json:"quantity" validate:"min=1"`
}

type SaleRequest struct {
	CustomerID    string `json:"customer_id"`
	AppointmentID string `json:"appointment_id"`
	Gateway       string `json:"gateway"`
	PaymentSource string `json:"payment_source"`
	Cash          int64  `json:"cash" validate:"min=0"`
	Discount      int64  `json:"discount" validate:"min=0"`
}
