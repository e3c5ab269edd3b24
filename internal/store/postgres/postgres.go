package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
)

// Pool tunes the database/sql connection pool. Zero fields keep the defaults.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sql.DB
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string, pool Pool) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 8
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 30
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetCatalogItem(ctx context.Context, kind domain.ItemKind, id string) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, kind, name, price, buy_price, duration_minutes, requires_staff
		FROM catalog_items
		WHERE id = $1 AND kind = $2 AND active = true
	`, id, string(kind)).Scan(&item.ID, &item.StoreID, &item.Kind, &item.Name, &item.Price, &item.BuyPrice, &item.DurationMinutes, &item.RequiresStaff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetStockLevel(ctx context.Context, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(sl.quantity, 0)
		FROM catalog_items ci
		LEFT JOIN stock_levels sl ON sl.product_id = ci.id
		WHERE ci.id = $1 AND ci.kind = 'product'
	`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) IncreaseStock(ctx context.Context, productID string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM catalog_items WHERE id = $1 AND kind = 'product')
	`, productID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}

	var updated int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stock_levels (product_id, quantity, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (product_id)
		DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING quantity
	`, productID, qty).Scan(&updated)
	if err != nil {
		return 0, err
	}
	return updated, nil
}

const cartLineColumns = `
	id, owner_id, store_id, kind, catalog_id, name, staff_id, quantity,
	unit_price, unit_duration, line_total, duration, hold_id, hold_label,
	held_at, appointment_id, customer_id, created_at, updated_at`

func scanCartLine(row rowScanner) (domain.CartLine, error) {
	var (
		line          domain.CartLine
		staffID       sql.NullString
		holdID        sql.NullString
		holdLabel     sql.NullString
		heldAt        sql.NullTime
		appointmentID sql.NullString
		customerID    sql.NullString
	)
	err := row.Scan(&line.ID, &line.Owner, &line.StoreID, &line.Kind, &line.CatalogID, &line.Name, &staffID, &line.Quantity,
		&line.UnitPrice, &line.UnitDuration, &line.LineTotal, &line.Duration, &holdID, &holdLabel,
		&heldAt, &appointmentID, &customerID, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, err
	}
	line.StaffID = staffID.String
	line.HoldID = holdID.String
	line.HoldLabel = holdLabel.String
	if heldAt.Valid {
		at := heldAt.Time.UTC()
		line.HeldAt = &at
	}
	line.AppointmentID = appointmentID.String
	line.CustomerID = customerID.String
	return line, nil
}

func queryCartLines(ctx context.Context, q queryer, query string, args ...any) ([]domain.CartLine, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0, 8)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListCartLines(ctx context.Context, owner string, held bool) ([]domain.CartLine, error) {
	query := `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE owner_id = $1 AND hold_id IS NULL ORDER BY created_at, id`
	if held {
		query = `SELECT ` + cartLineColumns + ` FROM cart_lines WHERE owner_id = $1 AND hold_id IS NOT NULL ORDER BY held_at DESC, hold_id, created_at, id`
	}
	return queryCartLines(ctx, s.db, query, owner)
}

func (s *Store) GetCartLine(ctx context.Context, owner string, lineID string) (*domain.CartLine, error) {
	line, err := scanCartLine(s.db.QueryRowContext(ctx, `
		SELECT `+cartLineColumns+`
		FROM cart_lines
		WHERE id = $1 AND owner_id = $2 AND hold_id IS NULL
	`, lineID, owner))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

func (s *Store) FindActiveLine(ctx context.Context, owner string, kind domain.ItemKind, catalogID string, staffID string) (*domain.CartLine, error) {
	line, err := scanCartLine(s.db.QueryRowContext(ctx, `
		SELECT `+cartLineColumns+`
		FROM cart_lines
		WHERE owner_id = $1 AND kind = $2 AND catalog_id = $3
			AND COALESCE(staff_id, '') = $4 AND hold_id IS NULL
	`, owner, string(kind), catalogID, staffID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

func (s *Store) InsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error) {
	if line.Owner == "" || line.CatalogID == "" || line.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	if line.ID == "" {
		line.ID = xid.New("cl")
	}
	line = line.WithQuantity(line.Quantity)

	saved, err := scanCartLine(s.db.QueryRowContext(ctx, `
		INSERT INTO cart_lines (
			id, owner_id, store_id, kind, catalog_id, name, staff_id, quantity,
			unit_price, unit_duration, line_total, duration, appointment_id, customer_id,
			created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,now(),now())
		ON CONFLICT (owner_id, kind, catalog_id, COALESCE(staff_id, '')) WHERE hold_id IS NULL
		DO UPDATE SET
			quantity = cart_lines.quantity + EXCLUDED.quantity,
			line_total = cart_lines.unit_price * (cart_lines.quantity + EXCLUDED.quantity),
			duration = cart_lines.unit_duration * (cart_lines.quantity + EXCLUDED.quantity),
			updated_at = now()
		RETURNING `+cartLineColumns,
		line.ID, line.Owner, line.StoreID, string(line.Kind), line.CatalogID, line.Name, nullIfEmpty(line.StaffID), line.Quantity,
		line.UnitPrice, line.UnitDuration, line.LineTotal, line.Duration, nullIfEmpty(line.AppointmentID), nullIfEmpty(line.CustomerID)))
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) UpdateCartLineQuantity(ctx context.Context, owner string, lineID string, qty int) (*domain.CartLine, error) {
	if qty < 1 {
		return nil, store.ErrInvalidInput
	}
	line, err := scanCartLine(s.db.QueryRowContext(ctx, `
		UPDATE cart_lines
		SET quantity = $3::int, line_total = unit_price * $3::int, duration = unit_duration * $3::int, updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND hold_id IS NULL
		RETURNING `+cartLineColumns,
		lineID, owner, qty))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

func (s *Store) DeleteCartLine(ctx context.Context, owner string, lineID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE id = $1 AND owner_id = $2 AND hold_id IS NULL
	`, lineID, owner)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) HoldActiveLines(ctx context.Context, owner string, holdID string, label string, heldAt time.Time) ([]domain.CartLine, error) {
	lines, err := queryCartLines(ctx, s.db, `
		UPDATE cart_lines
		SET hold_id = $2, hold_label = $3, held_at = $4, updated_at = $4
		WHERE owner_id = $1 AND hold_id IS NULL
		RETURNING `+cartLineColumns,
		owner, holdID, label, heldAt.UTC())
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrEmptyCart
	}
	return lines, nil
}

func (s *Store) ResumeHold(ctx context.Context, owner string, holdID string) ([]domain.CartLine, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var active bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM cart_lines WHERE owner_id = $1 AND hold_id IS NULL)
	`, owner).Scan(&active); err != nil {
		return nil, err
	}
	if active {
		return nil, store.ErrActiveCartExists
	}

	lines, err := queryCartLines(ctx, pgTx, `
		UPDATE cart_lines
		SET hold_id = NULL, hold_label = NULL, held_at = NULL, updated_at = now()
		WHERE owner_id = $1 AND hold_id = $2
		RETURNING `+cartLineColumns,
		owner, holdID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrActiveCartExists
		}
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrNotFound
	}
	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return nil, store.ErrActiveCartExists
		}
		return nil, err
	}
	return lines, nil
}

func (s *Store) DeleteHold(ctx context.Context, owner string, holdID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE owner_id = $1 AND hold_id = $2
	`, owner, holdID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, store.ErrNotFound
	}
	return int(affected), nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*domain.Appointment, error) {
	var (
		appt        domain.Appointment
		customerID  sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, customer_id, status, payment_status, scheduled_at, completed_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(&appt.ID, &appt.StoreID, &customerID, &appt.Status, &appt.PaymentStatus, &appt.ScheduledAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	appt.CustomerID = customerID.String
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		appt.CompletedAt = &at
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT service_id, name, staff_id, price, duration_minutes
		FROM appointment_services
		WHERE appointment_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appt.Services = make([]domain.BookedService, 0, 4)
	for rows.Next() {
		var svc domain.BookedService
		var staffID sql.NullString
		if err := rows.Scan(&svc.ServiceID, &svc.Name, &staffID, &svc.Price, &svc.DurationMinutes); err != nil {
			return nil, err
		}
		svc.StaffID = staffID.String
		appt.Services = append(appt.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &appt, nil
}

func (s *Store) TransactionIDForAppointment(ctx context.Context, appointmentID string) (string, error) {
	var txID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM transactions WHERE appointment_id = $1
	`, appointmentID).Scan(&txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return txID, nil
}

func (s *Store) MarkAppointmentSettled(ctx context.Context, appointmentID string, at time.Time) (bool, error) {
	changed, err := markSettled(ctx, s.db, appointmentID, at)
	if err != nil || changed {
		return changed, err
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
	`, appointmentID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func markSettled(ctx context.Context, q queryer, appointmentID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE appointments
		SET status = $2, payment_status = $3, completed_at = $4
		WHERE id = $1 AND status = $5
	`, appointmentID, domain.AppointmentCompleted, domain.AppointmentPaid, at.UTC(), domain.AppointmentInProgress)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var (
		customer domain.Customer
		email    sql.NullString
		phone    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone FROM customers WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &email, &phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.Email = email.String
	customer.Phone = phone.String
	return &customer, nil
}

func (s *Store) DefaultMerchant(ctx context.Context, storeID string) (*domain.Merchant, error) {
	var merchant domain.Merchant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, name, is_default
		FROM merchants
		WHERE store_id = $1 AND is_default = true
	`, storeID).Scan(&merchant.ID, &merchant.StoreID, &merchant.Name, &merchant.IsDefault)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT gateway, enabled, environment, server_key, location_id, currency
		FROM merchant_gateways
		WHERE merchant_id = $1
	`, merchant.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	merchant.Gateways = make(map[string]domain.GatewayCredentials, 2)
	for rows.Next() {
		var name string
		var creds domain.GatewayCredentials
		if err := rows.Scan(&name, &creds.Enabled, &creds.Environment, &creds.ServerKey, &creds.LocationID, &creds.Currency); err != nil {
			return nil, err
		}
		merchant.Gateways[name] = creds
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &merchant, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var (
		tx            domain.Transaction
		customerID    sql.NullString
		appointmentID sql.NullString
		merchantID    sql.NullString
		reference     sql.NullString
		paymentURL    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice, store_id, cashier_id, customer_id, appointment_id, merchant_id,
			subtotal, discount, grand_total, cash_tendered, change_given,
			payment_method, payment_status, payment_reference, payment_url, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.Invoice, &tx.StoreID, &tx.CashierID, &customerID, &appointmentID, &merchantID,
		&tx.Subtotal, &tx.Discount, &tx.GrandTotal, &tx.CashTendered, &tx.ChangeGiven,
		&tx.PaymentMethod, &tx.PaymentStatus, &reference, &paymentURL, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.CustomerID = customerID.String
	tx.AppointmentID = appointmentID.String
	tx.MerchantID = merchantID.String
	tx.PaymentReference = reference.String
	tx.PaymentURL = paymentURL.String

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, catalog_id, name, staff_id, quantity, price, duration, total
		FROM transaction_lines
		WHERE transaction_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	tx.Lines = make([]domain.TransactionLine, 0, 8)
	for lineRows.Next() {
		var line domain.TransactionLine
		var staffID sql.NullString
		if err := lineRows.Scan(&line.ID, &line.Kind, &line.CatalogID, &line.Name, &staffID, &line.Quantity, &line.Price, &line.Duration, &line.Total); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		line.StaffID = staffID.String
		tx.Lines = append(tx.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	profitRows, err := s.db.QueryContext(ctx, `
		SELECT line_id, kind, catalog_id, quantity, sell_price, buy_price, total
		FROM profit_records
		WHERE transaction_id = $1
		ORDER BY line_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer profitRows.Close()
	tx.Profits = make([]domain.ProfitRecord, 0, len(tx.Lines))
	for profitRows.Next() {
		var record domain.ProfitRecord
		if err := profitRows.Scan(&record.LineID, &record.Kind, &record.CatalogID, &record.Quantity, &record.SellPrice, &record.BuyPrice, &record.Total); err != nil {
			return nil, err
		}
		tx.Profits = append(tx.Profits, record)
	}
	if err := profitRows.Err(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) AttachPayment(ctx context.Context, transactionID string, reference string, url string) (*domain.Transaction, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET payment_reference = $2, payment_url = $3, updated_at = now()
		WHERE id = $1
	`, transactionID, nullIfEmpty(reference), nullIfEmpty(url))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransaction(ctx, transactionID)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.StoreID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, store_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func uniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
