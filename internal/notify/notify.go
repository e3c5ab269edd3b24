package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/metrics"
)

const (
	EventSaleCommitted        = "sale.committed"
	EventAppointmentCompleted = "appointment.completed"
	EventPaymentLinked        = "sale.payment_linked"

	defaultHandlerTimeout = 10 * time.Second
)

// Event is a fact about a committed sale. Events are only published after the
// storage commit succeeded.
type Event struct {
	Type          string              `json:"type"`
	StoreID       string              `json:"store_id"`
	Transaction   *domain.Transaction `json:"transaction,omitempty"`
	AppointmentID string              `json:"appointment_id,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Dispatcher fans events out to independent handlers in the background. A
// failing handler is logged and counted; it never reaches the publisher.
type Dispatcher struct {
	handlers []Handler
	timeout  time.Duration
	metrics  *metrics.Settlement
	log      *logger.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, m *metrics.Settlement, log *logger.Logger, handlers ...Handler) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	kept := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &Dispatcher{handlers: kept, timeout: timeout, metrics: m, log: log}
}

// Publish returns immediately. Handlers run on a context that keeps the
// caller's values but not its cancellation.
func (d *Dispatcher) Publish(ctx context.Context, events []Event) {
	if d == nil || len(events) == 0 || len(d.handlers) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(base, events)
	}()
}

// Wait blocks until every published batch has been handled or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, events []Event) {
	var g errgroup.Group
	for _, event := range events {
		for _, h := range d.handlers {
			g.Go(func() error {
				d.run(ctx, h, event)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (d *Dispatcher) run(ctx context.Context, h Handler, event Event) {
	handlerCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := safeHandle(handlerCtx, h, event)
	if err == nil {
		return
	}

	fields := map[string]any{
		"event":   event.Type,
		"handler": h.Name(),
	}
	if event.Transaction != nil {
		fields["transaction_id"] = event.Transaction.ID
		fields["invoice"] = event.Transaction.Invoice
	}
	if channels := failedChannels(err); len(channels) > 0 {
		fields["channels"] = channels
	}
	d.metrics.IncNotifyFailure(h.Name())
	d.log.Warn(d.log.WithFields(ctx, fields), "notification handler failed", err)
}

func safeHandle(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, event)
}

// ChannelError marks a failure of one delivery channel inside a handler.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return e.Channel + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

func failedChannels(err error) []string {
	var channels []string
	for _, item := range multierr.Errors(err) {
		var chErr *ChannelError
		if errors.As(item, &chErr) {
			channels = append(channels, chErr.Channel)
		}
	}
	return channels
}
