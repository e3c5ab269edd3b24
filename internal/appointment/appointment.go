package appointment

import (
	"context"
	"errors"
	"time"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/cart"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/store"
)

// Bridge links a booked appointment to the cart and to the transaction that
// eventually settles it. An appointment converts at most once; the commit
// re-checks that inside its own atomic unit.
type Bridge struct {
	repo store.AppointmentRepository
	cart *cart.Service
	log  *logger.Logger
	now  func() time.Time
}

type SeedResult struct {
	Appointment domain.Appointment `json:"appointment"`
	Added       []domain.CartLine  `json:"added"`
	Skipped     int                `json:"skipped"`
}

func New(repo store.AppointmentRepository, cartSvc *cart.Service, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		repo: repo,
		cart: cartSvc,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (b *Bridge) LoadForConversion(ctx context.Context, storeID string, appointmentID string) (*domain.Appointment, error) {
	appt, err := b.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(appointmentID)
		}
		return nil, apperr.Wrap(apperr.CodeDependency, err, "appointment lookup failed")
	}
	if storeID != "" && appt.StoreID != storeID {
		return nil, notFound(appointmentID)
	}

	txID, err := b.repo.TransactionIDForAppointment(ctx, appointmentID)
	switch {
	case err == nil:
		return nil, apperr.New(apperr.CodeAlreadyConverted, "appointment already has a transaction").WithDetails(map[string]any{
			"appointment": appointmentID,
			"transaction": txID,
		})
	case !errors.Is(err, store.ErrNotFound):
		return nil, apperr.Wrap(apperr.CodeDependency, err, "appointment lookup failed")
	}
	return appt, nil
}

// SeedCart copies the booked services into the owner's active basket at the
// booked price and staff. Services already in the basket are skipped.
func (b *Bridge) SeedCart(ctx context.Context, storeID string, appointmentID string, owner string) (*SeedResult, error) {
	appt, err := b.LoadForConversion(ctx, storeID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status == domain.AppointmentCancelled {
		return nil, apperr.New(apperr.CodeValidation, "appointment is cancelled").With("appointment", appointmentID)
	}

	result := &SeedResult{Appointment: *appt, Added: make([]domain.CartLine, 0, len(appt.Services))}
	for _, booked := range appt.Services {
		line, added, err := b.cart.AddBookedService(ctx, owner, *appt, booked)
		if err != nil {
			return nil, err
		}
		if !added {
			result.Skipped++
			continue
		}
		result.Added = append(result.Added, *line)
	}

	b.log.Info(b.log.WithFields(ctx, map[string]any{
		"appointment_id": appointmentID,
		"added":          len(result.Added),
		"skipped":        result.Skipped,
	}), "appointment seeded into cart")
	return result, nil
}

// MarkSettled moves an in-progress appointment to completed and paid. Any
// other status is left alone and reported as unchanged.
func (b *Bridge) MarkSettled(ctx context.Context, appointmentID string) (bool, error) {
	changed, err := b.repo.MarkAppointmentSettled(ctx, appointmentID, b.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, notFound(appointmentID)
		}
		return false, apperr.Wrap(apperr.CodeDependency, err, "appointment update failed")
	}
	return changed, nil
}

func notFound(appointmentID string) error {
	return apperr.New(apperr.CodeNotFound, "appointment not found").With("appointment", appointmentID)
}
