package cart

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/catalog"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/metrics"
	"kasirpro/backend/internal/stock"
	"kasirpro/backend/internal/store"
)

const holdLabelLayout = "2006-01-02 15:04"

// Service owns the per-cashier working baskets. An owner has at most one
// active basket (lines with no hold id) and any number of parked ones.
type Service struct {
	repo    store.CartRepository
	catalog *catalog.Lookup
	stock   *stock.Ledger
	metrics *metrics.Settlement
	log     *logger.Logger
	now     func() time.Time
}

func New(repo store.CartRepository, lookup *catalog.Lookup, ledger *stock.Ledger, m *metrics.Settlement, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:    repo,
		catalog: lookup,
		stock:   ledger,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) AddProduct(ctx context.Context, owner string, storeID string, catalogID string, qty int) (line *domain.CartLine, err error) {
	defer func() { s.observe("add_product", err) }()

	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, quantityError(qty)
	}
	item, err := s.catalog.Product(ctx, storeID, catalogID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findActive(ctx, owner, domain.KindProduct, catalogID, "")
	if err != nil {
		return nil, err
	}
	wanted := qty
	if existing != nil {
		wanted += existing.Quantity
	}
	if err := s.stock.Ensure(ctx, catalogID, wanted); err != nil {
		return nil, err
	}

	// The store adds qty onto a matching active line in one step, so
	// concurrent adds of the same item never lose an increment.
	saved, err := s.repo.InsertCartLine(ctx, domain.CartLine{
		Owner:     owner,
		StoreID:   storeID,
		Kind:      domain.KindProduct,
		CatalogID: item.ID,
		Name:      item.Name,
		Quantity:  qty,
		UnitPrice: item.Price,
	})
	if err != nil {
		return nil, translate(err, "product", catalogID)
	}
	return saved, nil
}

func (s *Service) AddService(ctx context.Context, owner string, storeID string, catalogID string, staffID string, qty int) (line *domain.CartLine, err error) {
	defer func() { s.observe("add_service", err) }()

	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, quantityError(qty)
	}
	item, err := s.catalog.Service(ctx, storeID, catalogID)
	if err != nil {
		return nil, err
	}
	staffID = strings.TrimSpace(staffID)
	if item.RequiresStaff && staffID == "" {
		return nil, apperr.New(apperr.CodeStaffRequired, "service requires a staff member").With("service", catalogID)
	}

	return s.addServiceLine(ctx, domain.CartLine{
		Owner:        owner,
		StoreID:      storeID,
		Kind:         domain.KindService,
		CatalogID:    item.ID,
		Name:         item.Name,
		StaffID:      staffID,
		Quantity:     qty,
		UnitPrice:    item.Price,
		UnitDuration: item.DurationMinutes,
	})
}

// AddBookedService adds a service that was booked on an appointment, keeping
// the booked price, duration and staff. added is false when the same service
// is already in the owner's active basket.
func (s *Service) AddBookedService(ctx context.Context, owner string, appt domain.Appointment, booked domain.BookedService) (line *domain.CartLine, added bool, err error) {
	defer func() { s.observe("seed_service", err) }()

	if err := validateOwner(owner); err != nil {
		return nil, false, err
	}
	existing, err := s.findActive(ctx, owner, domain.KindService, booked.ServiceID, booked.StaffID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	saved, err := s.repo.InsertCartLine(ctx, domain.CartLine{
		Owner:         owner,
		StoreID:       appt.StoreID,
		Kind:          domain.KindService,
		CatalogID:     booked.ServiceID,
		Name:          booked.Name,
		StaffID:       booked.StaffID,
		Quantity:      1,
		UnitPrice:     booked.Price,
		UnitDuration:  booked.DurationMinutes,
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
	})
	if err != nil {
		return nil, false, translate(err, "service", booked.ServiceID)
	}
	return saved, true, nil
}

func (s *Service) addServiceLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error) {
	saved, err := s.repo.InsertCartLine(ctx, line)
	if err != nil {
		return nil, translate(err, "service", line.CatalogID)
	}
	return saved, nil
}

func (s *Service) UpdateQuantity(ctx context.Context, owner string, lineID string, qty int) (line *domain.CartLine, err error) {
	defer func() { s.observe("update_line", err) }()

	if qty < 1 {
		return nil, quantityError(qty)
	}
	current, err := s.repo.GetCartLine(ctx, owner, lineID)
	if err != nil {
		return nil, translate(err, "line", lineID)
	}
	if current.Kind == domain.KindProduct {
		if err := s.stock.Ensure(ctx, current.CatalogID, qty); err != nil {
			return nil, err
		}
	}
	updated, err := s.repo.UpdateCartLineQuantity(ctx, owner, lineID, qty)
	if err != nil {
		return nil, translate(err, "line", lineID)
	}
	return updated, nil
}

func (s *Service) RemoveLine(ctx context.Context, owner string, lineID string) (err error) {
	defer func() { s.observe("remove_line", err) }()

	if err := s.repo.DeleteCartLine(ctx, owner, lineID); err != nil {
		return translate(err, "line", lineID)
	}
	return nil
}

func (s *Service) Hold(ctx context.Context, owner string, label string) (group *domain.HoldGroup, err error) {
	defer func() { s.observe("hold", err) }()

	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	now := s.now()
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Hold " + now.Format(holdLabelLayout)
	}
	holdID := uuid.NewString()

	lines, err := s.repo.HoldActiveLines(ctx, owner, holdID, label, now)
	if err != nil {
		return nil, translate(err, "owner", owner)
	}
	groups := groupHolds(lines)
	if len(groups) == 0 {
		return nil, apperr.New(apperr.CodeEmptyCart, "cart has no active lines")
	}
	s.log.Info(s.log.WithFields(ctx, map[string]any{"hold_id": holdID, "lines": len(lines)}), "cart held")
	return &groups[0], nil
}

func (s *Service) Resume(ctx context.Context, owner string, holdID string) (result *domain.ResumeResult, err error) {
	defer func() { s.observe("resume", err) }()

	lines, err := s.repo.ResumeHold(ctx, owner, holdID)
	if err != nil {
		return nil, translate(err, "hold", holdID)
	}
	result = &domain.ResumeResult{HoldID: holdID, Lines: lines}
	result.AppointmentID, result.CustomerID = linkedIDs(lines)
	return result, nil
}

func (s *Service) ClearHold(ctx context.Context, owner string, holdID string) (removed int, err error) {
	defer func() { s.observe("clear_hold", err) }()

	removed, err = s.repo.DeleteHold(ctx, owner, holdID)
	if err != nil {
		return 0, translate(err, "hold", holdID)
	}
	return removed, nil
}

func (s *Service) ListActive(ctx context.Context, owner string) (*domain.ActiveCart, error) {
	lines, err := s.repo.ListCartLines(ctx, owner, false)
	if err != nil {
		return nil, translate(err, "owner", owner)
	}
	cart := &domain.ActiveCart{Owner: owner, Lines: lines}
	for _, line := range lines {
		cart.ItemCount += line.Quantity
		cart.Total += line.LineTotal
		cart.Duration += line.Duration
	}
	cart.AppointmentID, cart.CustomerID = linkedIDs(lines)
	return cart, nil
}

// ListHeld returns the owner's parked baskets, newest first.
func (s *Service) ListHeld(ctx context.Context, owner string) ([]domain.HoldGroup, error) {
	lines, err := s.repo.ListCartLines(ctx, owner, true)
	if err != nil {
		return nil, translate(err, "owner", owner)
	}
	return groupHolds(lines), nil
}

func (s *Service) findActive(ctx context.Context, owner string, kind domain.ItemKind, catalogID string, staffID string) (*domain.CartLine, error) {
	line, err := s.repo.FindActiveLine(ctx, owner, kind, catalogID, staffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, translate(err, "owner", owner)
	}
	return line, nil
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.CodeOf(err))
	}
	s.metrics.ObserveCartOp(op, result)
}

func groupHolds(lines []domain.CartLine) []domain.HoldGroup {
	index := make(map[string]int, 4)
	groups := make([]domain.HoldGroup, 0, 4)
	for _, line := range lines {
		if line.HoldID == "" {
			continue
		}
		i, ok := index[line.HoldID]
		if !ok {
			group := domain.HoldGroup{HoldID: line.HoldID, Label: line.HoldLabel}
			if line.HeldAt != nil {
				group.HeldAt = *line.HeldAt
			}
			groups = append(groups, group)
			i = len(groups) - 1
			index[line.HoldID] = i
		}
		group := &groups[i]
		group.Lines = append(group.Lines, line)
		group.ItemCount += line.Quantity
		group.Total += line.LineTotal
		if group.AppointmentID == "" {
			group.AppointmentID = line.AppointmentID
		}
		if group.CustomerID == "" {
			group.CustomerID = line.CustomerID
		}
	}
	slices.SortStableFunc(groups, func(a, b domain.HoldGroup) int {
		return b.HeldAt.Compare(a.HeldAt)
	})
	return groups
}

func linkedIDs(lines []domain.CartLine) (appointmentID string, customerID string) {
	for _, line := range lines {
		if appointmentID == "" {
			appointmentID = line.AppointmentID
		}
		if customerID == "" {
			customerID = line.CustomerID
		}
	}
	return appointmentID, customerID
}

func validateOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return apperr.New(apperr.CodeValidation, "owner is required")
	}
	return nil
}

func quantityError(qty int) error {
	return apperr.New(apperr.CodeValidation, "quantity must be at least 1").With("quantity", qty)
}

func translate(err error, key string, value string) error {
	if apperr.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, key+" not found").With(key, value)
	case errors.Is(err, store.ErrEmptyCart):
		return apperr.Wrap(apperr.CodeEmptyCart, err, "cart has no active lines")
	case errors.Is(err, store.ErrActiveCartExists):
		return apperr.Wrap(apperr.CodeActiveCartExists, err, "finish or hold the active cart first").With(key, value)
	case errors.Is(err, store.ErrInvalidInput):
		return apperr.Wrap(apperr.CodeValidation, err, "invalid cart line")
	default:
		return apperr.Wrap(apperr.CodeDependency, err, "cart storage failed")
	}
}
