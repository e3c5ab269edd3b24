package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"kasirpro/backend/internal/apperr"
	"kasirpro/backend/internal/appointment"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/logger"
	"kasirpro/backend/internal/metrics"
	"kasirpro/backend/internal/notify"
	"kasirpro/backend/internal/payment"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
)

// State is where one checkout ended up.
type State string

const (
	StateAccumulating   State = "accumulating"
	StateCommitting     State = "committing"
	StateCommitted      State = "committed"
	StateGatewayPending State = "gateway_pending"
	StateSettled        State = "settled"
	StateAborted        State = "aborted"
)

const (
	invoiceAttempts      = 5
	defaultCommitTimeout = 10 * time.Second
)

type Repository interface {
	ListCartLines(ctx context.Context, owner string, held bool) ([]domain.CartLine, error)
	store.SettlementRepository
}

type Publisher interface {
	Publish(ctx context.Context, events []notify.Event)
}

// PaymentError is a gateway failure that happened after the sale was
// committed. The transaction stays pending and can be charged again.
type PaymentError struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Result struct {
	State        State               `json:"state"`
	Transaction  *domain.Transaction `json:"transaction"`
	PaymentError *PaymentError       `json:"payment_error,omitempty"`
}

type Options struct {
	CommitTimeout time.Duration
	Publisher     Publisher
	Metrics       *metrics.Settlement
	Logger        *logger.Logger
}

// Engine turns an owner's active cart into a committed transaction.
type Engine struct {
	repo          Repository
	appointments  *appointment.Bridge
	router        *payment.Router
	publisher     Publisher
	metrics       *metrics.Settlement
	log           *logger.Logger
	commitTimeout time.Duration

	invoice func() (string, error)
	now     func() time.Time
}

func New(repo Repository, appointments *appointment.Bridge, router *payment.Router, opts Options) *Engine {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Engine{
		repo:          repo,
		appointments:  appointments,
		router:        router,
		publisher:     opts.Publisher,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		commitTimeout: opts.CommitTimeout,
		invoice:       xid.Invoice,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// checkout carries one CommitSale call through its states.
type checkout struct {
	owner       string
	storeID     string
	req         domain.SaleRequest
	lines       []domain.CartLine
	appointment *domain.Appointment
	mode        payment.Mode
	state       State
}

func (e *Engine) CommitSale(ctx context.Context, owner string, storeID string, req domain.SaleRequest) (*Result, error) {
	started := time.Now()
	c := &checkout{owner: owner, storeID: storeID, req: req, state: StateAccumulating}

	result, err := e.commit(ctx, c)

	method := c.mode.Method()
	if err != nil {
		e.metrics.ObserveCommit(string(c.state), method)
		e.metrics.ObserveCommitDuration(string(apperr.CodeOf(err)), time.Since(started))
		e.log.Warn(e.log.WithFields(ctx, map[string]any{
			"owner":    owner,
			"store_id": storeID,
			"state":    string(c.state),
			"code":     string(apperr.CodeOf(err)),
		}), "checkout failed", err)
		return nil, err
	}
	e.metrics.ObserveCommit(string(result.State), method)
	e.metrics.ObserveCommitDuration("ok", time.Since(started))
	return result, nil
}

func (e *Engine) commit(ctx context.Context, c *checkout) (*Result, error) {
	if err := e.prevalidate(ctx, c); err != nil {
		c.state = StateAborted
		return nil, err
	}

	c.state = StateCommitting
	tx, err := e.commitAtomically(ctx, c)
	if err != nil {
		c.state = StateAborted
		return nil, err
	}
	c.state = StateCommitted

	logCtx := e.log.WithFields(ctx, map[string]any{
		"transaction_id": tx.ID,
		"invoice":        tx.Invoice,
		"grand_total":    tx.GrandTotal,
		"method":         tx.PaymentMethod,
	})
	e.log.Info(logCtx, "sale committed")

	result := &Result{State: StateCommitted, Transaction: tx}
	if c.mode.Cash() {
		result.State = StateSettled
	} else {
		e.chargeGateway(ctx, result, c.mode, c.req.PaymentSource)
	}
	c.state = result.State

	e.publish(ctx, notify.EventSaleCommitted, result.Transaction)
	return result, nil
}

// prevalidate runs every check that can fail before anything is written.
func (e *Engine) prevalidate(ctx context.Context, c *checkout) error {
	if c.owner == "" {
		return apperr.New(apperr.CodeValidation, "owner is required")
	}
	if c.req.Discount < 0 {
		return apperr.New(apperr.CodeValidation, "discount must not be negative").With("discount", c.req.Discount)
	}
	if c.req.Cash < 0 {
		return apperr.New(apperr.CodeValidation, "cash must not be negative").With("cash", c.req.Cash)
	}

	lines, err := e.repo.ListCartLines(ctx, c.owner, false)
	if err != nil {
		return apperr.Wrap(apperr.CodeDependency, err, "cart lookup failed")
	}
	if len(lines) == 0 {
		return apperr.New(apperr.CodeEmptyCart, "cart has no active lines")
	}
	c.lines = lines

	appointmentID, err := linkedAppointment(c.req.AppointmentID, lines)
	if err != nil {
		return err
	}
	if appointmentID != "" {
		appt, err := e.appointments.LoadForConversion(ctx, c.storeID, appointmentID)
		if err != nil {
			return err
		}
		c.appointment = appt
	}

	mode, err := e.router.Resolve(ctx, c.storeID, c.req.Gateway)
	if err != nil {
		return err
	}
	c.mode = mode

	if _, err := domain.ComputeTotals(lines, c.req.Discount, c.req.Cash, mode.Cash()); err != nil {
		return totalsError(err, c.req)
	}
	return nil
}

// commitAtomically runs the storage commit on a context that ignores the
// caller's cancellation. A colliding invoice code is regenerated.
func (e *Engine) commitAtomically(ctx context.Context, c *checkout) (*domain.Transaction, error) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.commitTimeout)
	defer cancel()

	commit := store.SaleCommit{
		TransactionID: xid.New("trx"),
		StoreID:       c.storeID,
		Owner:         c.owner,
		CustomerID:    c.req.CustomerID,
		PaymentMethod: c.mode.Method(),
		PaymentStatus: domain.PaymentStatusPending,
		MerchantID:    c.mode.MerchantID,
		Discount:      c.req.Discount,
		Cash:          c.req.Cash,
		CreatedAt:     e.now(),
	}
	if c.mode.Cash() {
		commit.PaymentStatus = domain.PaymentStatusPaid
	}
	if c.appointment != nil {
		commit.AppointmentID = c.appointment.ID
		if commit.CustomerID == "" {
			commit.CustomerID = c.appointment.CustomerID
		}
	}

	var (
		tx       *domain.Transaction
		attempts int
	)
	backoff := retry.WithMaxRetries(invoiceAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(commitCtx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			e.metrics.IncInvoiceRetry()
		}
		invoice, err := e.invoice()
		if err != nil {
			return err
		}
		commit.Invoice = invoice

		saved, err := e.repo.CommitSale(ctx, commit)
		if errors.Is(err, store.ErrDuplicateInvoice) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		tx = saved
		return nil
	})
	if err != nil {
		return nil, commitError(err, commit, attempts)
	}
	return tx, nil
}

// chargeGateway moves a committed gateway sale to GatewayPending. A failed
// charge leaves the transaction pending and is reported on the result.
func (e *Engine) chargeGateway(ctx context.Context, result *Result, mode payment.Mode, source string) {
	ctx = context.WithoutCancel(ctx)
	tx := result.Transaction

	charge, err := e.router.Charge(ctx, *tx, mode, source)
	if err != nil {
		result.PaymentError = paymentError(err)
		return
	}

	attachCtx, cancel := context.WithTimeout(ctx, e.commitTimeout)
	defer cancel()
	updated, err := e.repo.AttachPayment(attachCtx, tx.ID, charge.Reference, charge.PaymentURL)
	if err != nil {
		e.log.Error(e.log.WithFields(ctx, map[string]any{
			"transaction_id": tx.ID,
			"reference":      charge.Reference,
		}), "attach payment reference failed", err)
		result.PaymentError = paymentError(apperr.Wrap(apperr.CodeDependency, err, "payment reference could not be saved").
			With("transaction", tx.ID))
		return
	}
	result.Transaction = updated
	result.State = StateGatewayPending
}

// publish hands the post-commit events to the dispatcher. tx must be the
// transaction as it stands after any payment reference was attached.
func (e *Engine) publish(ctx context.Context, eventType string, tx *domain.Transaction) {
	if e.publisher == nil {
		return
	}
	now := e.now()
	events := []notify.Event{{
		Type:        eventType,
		StoreID:     tx.StoreID,
		Transaction: tx,
		OccurredAt:  now,
	}}
	if eventType == notify.EventSaleCommitted && tx.AppointmentID != "" {
		events = append(events, notify.Event{
			Type:          notify.EventAppointmentCompleted,
			StoreID:       tx.StoreID,
			Transaction:   tx,
			AppointmentID: tx.AppointmentID,
			OccurredAt:    now,
		})
	}
	e.publisher.Publish(ctx, events)
}

// RetryPayment charges a pending gateway transaction again with the
// credentials it was committed under. A transaction that already has a
// payment reference is returned as is.
func (e *Engine) RetryPayment(ctx context.Context, storeID string, transactionID string, source string) (*Result, error) {
	tx, err := e.Transaction(ctx, storeID, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.PaymentMethod == domain.PaymentMethodCash || tx.PaymentStatus != domain.PaymentStatusPending {
		return nil, apperr.New(apperr.CodeValidation, "transaction is not awaiting a gateway payment").WithDetails(map[string]any{
			"transaction":    tx.ID,
			"payment_status": tx.PaymentStatus,
		})
	}
	if tx.PaymentReference != "" {
		return &Result{State: StateGatewayPending, Transaction: tx}, nil
	}

	mode, err := e.router.Resolve(ctx, storeID, tx.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if mode.MerchantID != tx.MerchantID {
		return nil, apperr.New(apperr.CodeGatewayNotConfigured, "payment credentials changed since the sale was committed").WithDetails(map[string]any{
			"transaction":       tx.ID,
			"gateway":           mode.Gateway,
			"merchant":          tx.MerchantID,
			"resolved_merchant": mode.MerchantID,
		})
	}
	result := &Result{State: StateCommitted, Transaction: tx}
	e.chargeGateway(ctx, result, mode, source)
	e.metrics.ObserveCommit(string(result.State), mode.Method())
	if result.State == StateGatewayPending {
		e.publish(ctx, notify.EventPaymentLinked, result.Transaction)
	}
	return result, nil
}

func (e *Engine) Transaction(ctx context.Context, storeID string, id string) (*domain.Transaction, error) {
	tx, err := e.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "transaction not found").With("transaction", id)
		}
		return nil, apperr.Wrap(apperr.CodeDependency, err, "transaction lookup failed")
	}
	if storeID != "" && tx.StoreID != storeID {
		return nil, apperr.New(apperr.CodeNotFound, "transaction not found").With("transaction", id)
	}
	return tx, nil
}

func linkedAppointment(requested string, lines []domain.CartLine) (string, error) {
	var linked string
	for _, line := range lines {
		if line.AppointmentID != "" {
			linked = line.AppointmentID
			break
		}
	}
	switch {
	case requested == "":
		return linked, nil
	case linked != "" && linked != requested:
		return "", apperr.New(apperr.CodeValidation, "cart is linked to a different appointment").WithDetails(map[string]any{
			"appointment": requested,
			"linked":      linked,
		})
	default:
		return requested, nil
	}
}

func totalsError(err error, req domain.SaleRequest) error {
	switch {
	case errors.Is(err, domain.ErrDiscountExceedsSubtotal):
		return apperr.Wrap(apperr.CodeValidation, err, "discount exceeds subtotal").With("discount", req.Discount)
	case errors.Is(err, domain.ErrCashBelowTotal):
		return apperr.Wrap(apperr.CodeValidation, err, "cash tendered is below the grand total").With("cash", req.Cash)
	default:
		return apperr.Wrap(apperr.CodeValidation, err, "invalid sale totals")
	}
}

func commitError(err error, commit store.SaleCommit, attempts int) error {
	if apperr.As(err) != nil {
		return err
	}
	var shortage *store.StockShortageError
	switch {
	case errors.As(err, &shortage):
		return apperr.Wrap(apperr.CodeInsufficientStock, err, "insufficient stock").WithDetails(map[string]any{
			"line":      shortage.LineID,
			"product":   shortage.ProductID,
			"requested": shortage.Requested,
			"available": shortage.Available,
		})
	case errors.Is(err, store.ErrAlreadyConverted):
		return apperr.Wrap(apperr.CodeAlreadyConverted, err, "appointment already has a transaction").With("appointment", commit.AppointmentID)
	case errors.Is(err, store.ErrEmptyCart):
		return apperr.Wrap(apperr.CodeEmptyCart, err, "cart has no active lines")
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "appointment not found").With("appointment", commit.AppointmentID)
	case errors.Is(err, domain.ErrDiscountExceedsSubtotal), errors.Is(err, domain.ErrCashBelowTotal):
		return totalsError(err, domain.SaleRequest{Discount: commit.Discount, Cash: commit.Cash})
	case errors.Is(err, store.ErrDuplicateInvoice):
		return apperr.Wrap(apperr.CodeInternal, err, "could not allocate an invoice code").With("attempts", attempts)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeDependency, err, "sale commit timed out")
	default:
		return apperr.Wrap(apperr.CodeDependency, err, "sale commit failed")
	}
}

func paymentError(err error) *PaymentError {
	appErr := apperr.As(err)
	if appErr == nil {
		appErr = apperr.Wrap(apperr.CodeGatewayError, err, "payment gateway request failed")
	}
	return &PaymentError{Code: appErr.Code(), Message: appErr.Message(), Details: appErr.Details()}
}
