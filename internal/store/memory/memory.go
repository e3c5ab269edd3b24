package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
)

// Store keeps every aggregate behind one mutex, so a commit observes and
// mutates stock, cart lines and appointments as a single serial step.
type Store struct {
	mu            sync.RWMutex
	catalog       map[string]domain.CatalogItem
	stock         map[string]int
	cartLines     map[string]domain.CartLine
	appointments  map[string]domain.Appointment
	customers     map[string]domain.Customer
	merchants     map[string]domain.Merchant
	transactions  map[string]*domain.Transaction
	invoices      map[string]string
	byAppointment map[string]string
	users         map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		catalog:       make(map[string]domain.CatalogItem),
		stock:         make(map[string]int),
		cartLines:     make(map[string]domain.CartLine),
		appointments:  make(map[string]domain.Appointment),
		customers:     make(map[string]domain.Customer),
		merchants:     make(map[string]domain.Merchant),
		transactions:  make(map[string]*domain.Transaction),
		invoices:      make(map[string]string),
		byAppointment: make(map[string]string),
		users:         make(map[string]domain.UserAccount),
	}
}

func (s *Store) PutCatalogItem(item domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[item.ID] = item
}

func (s *Store) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = qty
}

func (s *Store) PutAppointment(appt domain.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[appt.ID] = cloneAppointment(appt)
}

func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

func (s *Store) PutMerchant(merchant domain.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[merchant.ID] = cloneMerchant(merchant)
}

// CountTransactions returns how many transactions reference appointmentID,
// or all transactions when it is empty.
func (s *Store) CountTransactions(appointmentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if appointmentID == "" {
		return len(s.transactions)
	}
	count := 0
	for _, tx := range s.transactions {
		if tx.AppointmentID == appointmentID {
			count++
		}
	}
	return count
}

func (s *Store) GetCatalogItem(_ context.Context, kind domain.ItemKind, id string) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.catalog[id]
	if !ok || item.Kind != kind {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetStockLevel(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.catalog[productID]; !ok || item.Kind != domain.KindProduct {
		return 0, store.ErrNotFound
	}
	return s.stock[productID], nil
}

func (s *Store) IncreaseStock(_ context.Context, productID string, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return 0, store.ErrInvalidInput
	}
	if item, ok := s.catalog[productID]; !ok || item.Kind != domain.KindProduct {
		return 0, store.ErrNotFound
	}
	s.stock[productID] += qty
	return s.stock[productID], nil
}

func (s *Store) ListCartLines(_ context.Context, owner string, held bool) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.CartLine, 0, 8)
	for _, line := range s.cartLines {
		if line.Owner != owner || line.Active() == held {
			continue
		}
		lines = append(lines, cloneLine(line))
	}
	sortLines(lines)
	return lines, nil
}

func (s *Store) GetCartLine(_ context.Context, owner string, lineID string) (*domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.cartLines[lineID]
	if !ok || line.Owner != owner || !line.Active() {
		return nil, store.ErrNotFound
	}
	dup := cloneLine(line)
	return &dup, nil
}

func (s *Store) FindActiveLine(_ context.Context, owner string, kind domain.ItemKind, catalogID string, staffID string) (*domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if line, ok := s.findActiveLocked(owner, domain.CartLine{Kind: kind, CatalogID: catalogID, StaffID: staffID}); ok {
		dup := cloneLine(line)
		return &dup, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) InsertCartLine(_ context.Context, line domain.CartLine) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.Owner == "" || line.CatalogID == "" || line.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	if existing, ok := s.findActiveLocked(line.Owner, line); ok {
		merged := existing.WithQuantity(existing.Quantity + line.Quantity)
		merged.UpdatedAt = now
		s.cartLines[merged.ID] = merged
		dup := cloneLine(merged)
		return &dup, nil
	}

	if line.ID == "" {
		line.ID = xid.New("cl")
	}
	line = line.WithQuantity(line.Quantity)
	line.HoldID, line.HoldLabel, line.HeldAt = "", "", nil
	line.CreatedAt = now
	line.UpdatedAt = now
	s.cartLines[line.ID] = line
	dup := cloneLine(line)
	return &dup, nil
}

func (s *Store) UpdateCartLineQuantity(_ context.Context, owner string, lineID string, qty int) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	line, ok := s.cartLines[lineID]
	if !ok || line.Owner != owner || !line.Active() {
		return nil, store.ErrNotFound
	}
	line = line.WithQuantity(qty)
	line.UpdatedAt = time.Now().UTC()
	s.cartLines[lineID] = line
	dup := cloneLine(line)
	return &dup, nil
}

func (s *Store) DeleteCartLine(_ context.Context, owner string, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, ok := s.cartLines[lineID]
	if !ok || line.Owner != owner || !line.Active() {
		return store.ErrNotFound
	}
	delete(s.cartLines, lineID)
	return nil
}

func (s *Store) HoldActiveLines(_ context.Context, owner string, holdID string, label string, heldAt time.Time) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.activeLinesLocked(owner)
	if len(active) == 0 {
		return nil, store.ErrEmptyCart
	}
	stamp := heldAt.UTC()
	held := make([]domain.CartLine, 0, len(active))
	for _, line := range active {
		line.HoldID = holdID
		line.HoldLabel = label
		line.HeldAt = &stamp
		line.UpdatedAt = stamp
		s.cartLines[line.ID] = line
		held = append(held, cloneLine(line))
	}
	return held, nil
}

func (s *Store) ResumeHold(_ context.Context, owner string, holdID string) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.activeLinesLocked(owner)) > 0 {
		return nil, store.ErrActiveCartExists
	}
	lines := s.heldLinesLocked(owner, holdID)
	if len(lines) == 0 {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	resumed := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.HoldID, line.HoldLabel, line.HeldAt = "", "", nil
		line.UpdatedAt = now
		s.cartLines[line.ID] = line
		resumed = append(resumed, cloneLine(line))
	}
	return resumed, nil
}

func (s *Store) DeleteHold(_ context.Context, owner string, holdID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.heldLinesLocked(owner, holdID)
	if len(lines) == 0 {
		return 0, store.ErrNotFound
	}
	for _, line := range lines {
		delete(s.cartLines, line.ID)
	}
	return len(lines), nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (*domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneAppointment(appt)
	return &dup, nil
}

func (s *Store) TransactionIDForAppointment(_ context.Context, appointmentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if txID, ok := s.byAppointment[appointmentID]; ok {
		return txID, nil
	}
	return "", store.ErrNotFound
}

func (s *Store) MarkAppointmentSettled(_ context.Context, appointmentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markSettledLocked(appointmentID, at)
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) DefaultMerchant(_ context.Context, storeID string) (*domain.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, merchant := range s.merchants {
		if merchant.StoreID == storeID && merchant.IsDefault {
			dup := cloneMerchant(merchant)
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CommitSale(_ context.Context, c store.SaleCommit) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.TransactionID == "" || c.Invoice == "" || c.Owner == "" {
		return nil, store.ErrInvalidInput
	}
	lines := s.activeLinesLocked(c.Owner)
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	if c.AppointmentID != "" {
		if _, ok := s.appointments[c.AppointmentID]; !ok {
			return nil, store.ErrNotFound
		}
		if _, taken := s.byAppointment[c.AppointmentID]; taken {
			return nil, store.ErrAlreadyConverted
		}
	}
	if _, dup := s.invoices[c.Invoice]; dup {
		return nil, store.ErrDuplicateInvoice
	}

	totals, err := domain.ComputeTotals(lines, c.Discount, c.Cash, c.CashSale())
	if err != nil {
		return nil, err
	}

	demand := store.ProductDemand(lines)
	buyPrices := make(map[string]int64, len(demand))
	for _, line := range lines {
		if line.Kind != domain.KindProduct {
			continue
		}
		available := s.stock[line.CatalogID]
		if available < demand[line.CatalogID] {
			return nil, &store.StockShortageError{
				LineID:    line.ID,
				ProductID: line.CatalogID,
				Requested: demand[line.CatalogID],
				Available: available,
			}
		}
		buyPrices[line.CatalogID] = s.catalog[line.CatalogID].BuyPrice
	}

	// Validation is complete; nothing below can fail.
	now := c.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if c.CustomerID == "" {
		c.CustomerID = store.CustomerFromLines(lines)
	}
	tx := store.AssembleTransaction(c, lines, totals, buyPrices, now)

	for productID, qty := range demand {
		s.stock[productID] -= qty
	}
	for _, line := range lines {
		delete(s.cartLines, line.ID)
	}
	if c.AppointmentID != "" {
		_, _ = s.markSettledLocked(c.AppointmentID, now)
		s.byAppointment[c.AppointmentID] = tx.ID
	}
	s.invoices[tx.Invoice] = tx.ID
	s.transactions[tx.ID] = cloneTransaction(&tx)

	return cloneTransaction(&tx), nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) AttachPayment(_ context.Context, transactionID string, reference string, url string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	tx.PaymentReference = reference
	tx.PaymentURL = url
	tx.UpdatedAt = time.Now().UTC()
	return cloneTransaction(tx), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) findActiveLocked(owner string, want domain.CartLine) (domain.CartLine, bool) {
	for _, line := range s.cartLines {
		if line.Owner == owner && line.Active() && line.SameItem(want) {
			return line, true
		}
	}
	return domain.CartLine{}, false
}

func (s *Store) activeLinesLocked(owner string) []domain.CartLine {
	lines := make([]domain.CartLine, 0, 8)
	for _, line := range s.cartLines {
		if line.Owner == owner && line.Active() {
			lines = append(lines, line)
		}
	}
	sortLines(lines)
	return lines
}

func (s *Store) heldLinesLocked(owner string, holdID string) []domain.CartLine {
	lines := make([]domain.CartLine, 0, 8)
	for _, line := range s.cartLines {
		if line.Owner == owner && holdID != "" && line.HoldID == holdID {
			lines = append(lines, line)
		}
	}
	sortLines(lines)
	return lines
}

func (s *Store) markSettledLocked(appointmentID string, at time.Time) (bool, error) {
	appt, ok := s.appointments[appointmentID]
	if !ok {
		return false, store.ErrNotFound
	}
	if appt.Status != domain.AppointmentInProgress {
		return false, nil
	}
	completed := at.UTC()
	appt.Status = domain.AppointmentCompleted
	appt.PaymentStatus = domain.AppointmentPaid
	appt.CompletedAt = &completed
	s.appointments[appointmentID] = appt
	return true, nil
}

func sortLines(lines []domain.CartLine) {
	slices.SortFunc(lines, func(a, b domain.CartLine) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.Before(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneLine(src domain.CartLine) domain.CartLine {
	dup := src
	if src.HeldAt != nil {
		at := *src.HeldAt
		dup.HeldAt = &at
	}
	return dup
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	dup.Profits = slices.Clone(src.Profits)
	return &dup
}

func cloneAppointment(src domain.Appointment) domain.Appointment {
	dup := src
	dup.Services = slices.Clone(src.Services)
	if src.CompletedAt != nil {
		at := *src.CompletedAt
		dup.CompletedAt = &at
	}
	return dup
}

func cloneMerchant(src domain.Merchant) domain.Merchant {
	dup := src
	dup.Gateways = make(map[string]domain.GatewayCredentials, len(src.Gateways))
	for name, creds := range src.Gateways {
		dup.Gateways[name] = creds
	}
	return dup
}
