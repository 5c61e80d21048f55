package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

const orderColumns = `id, external_order_id, provider_order_id, currency,
	total_amount, paid_amount, remaining_amount, refunded_amount, status,
	customer_name, customer_email, customer_phone,
	transaction_id, payment_method, rejection_reason, callback_data, details,
	email_sent, email_sent_at, created_at, updated_at, expires_at,
	paid_at, failed_at, refunded_at`

var orderTables = map[domain.OrderKind]string{
	domain.KindTour:         "tour_payment_orders",
	domain.KindTransfer:     "transfer_payment_orders",
	domain.KindQuickPayment: "quick_payment_orders",
	domain.KindInsurance:    "insurance_submissions",
}

// OrderRepository persists payment orders of one kind. Every kind has its own
// table with an identical layout.
type OrderRepository struct {
	db    *sql.DB
	kind  domain.OrderKind
	table string
}

func NewOrderRepository(db *sql.DB, kind domain.OrderKind) (*OrderRepository, error) {
	table, ok := orderTables[kind]
	if !ok {
		return nil, fmt.Errorf("NewOrderRepository: unknown order kind %q", kind)
	}
	return &OrderRepository{db: db, kind: kind, table: table}, nil
}

func (r *OrderRepository) Kind() domain.OrderKind { return r.kind }

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	details := o.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (
			id, external_order_id, provider_order_id, currency,
			total_amount, paid_amount, remaining_amount, status,
			customer_name, customer_email, customer_phone, details,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.ExternalOrderID, o.ProviderOrderID, o.Currency,
		o.TotalAmount, o.PaidAmount, nullDecimal(o.RemainingAmount), o.Status,
		o.CustomerName, o.CustomerEmail, o.CustomerPhone, details,
		o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrConflict)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+` WHERE id = $1`, id,
	)
	o, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

// Find matches an order by provider order id or external order id. When both
// could match different rows the external id wins.
func (r *OrderRepository) Find(ctx context.Context, providerOrderID, externalOrderID string) (*domain.Order, error) {
	if providerOrderID == "" && externalOrderID == "" {
		return nil, fmt.Errorf("Find: %w", domain.ErrNotFound)
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+`
		WHERE ($1 <> '' AND provider_order_id = $1) OR ($2 <> '' AND external_order_id = $2)
		ORDER BY (external_order_id = $2) DESC
		LIMIT 1`,
		providerOrderID, externalOrderID,
	)
	o, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Find: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Find: %w", err)
	}
	return o, nil
}

// ApplyTransition moves the order to t.To only while its current status is one
// of from. A row in any other status yields ErrInvalidTransition.
func (r *OrderRepository) ApplyTransition(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, t domain.Transition) (*domain.Order, error) {
	fromArr := make([]string, len(from))
	for i, s := range from {
		fromArr[i] = string(s)
	}
	var callback any
	if len(t.CallbackData) > 0 {
		callback = []byte(t.CallbackData)
	}

	var (
		set  string
		args = []any{id, pq.Array(fromArr), t.To, t.At, callback}
	)
	switch t.To {
	case domain.OrderStatusPaid:
		set = `transaction_id = COALESCE($6, transaction_id), payment_method = COALESCE($7, payment_method),
			paid_at = $4, failed_at = NULL, rejection_reason = NULL`
		args = append(args, t.TransactionID, t.PaymentMethod)
	case domain.OrderStatusFailed:
		set = `failed_at = $4, rejection_reason = $6, paid_at = NULL`
		args = append(args, t.RejectionReason)
	case domain.OrderStatusRefunded:
		set = `refunded_at = $4, refunded_amount = $6`
		args = append(args, nullDecimal(t.RefundedAmount))
	default:
		return nil, fmt.Errorf("ApplyTransition: %w: target %s", domain.ErrInvalidTransition, t.To)
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE `+r.table+` SET status = $3, callback_data = COALESCE($5, callback_data), updated_at = $4, `+set+`
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+orderColumns,
		args...,
	)
	o, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ApplyTransition: %w", domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("ApplyTransition: %w", err)
	}
	return o, nil
}

// RecordCallback stores a provider payload without changing status.
func (r *OrderRepository) RecordCallback(ctx context.Context, id uuid.UUID, payload []byte, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET callback_data = $2, updated_at = $3 WHERE id = $1`,
		id, payload, at,
	)
	if err != nil {
		return fmt.Errorf("RecordCallback: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordCallback: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RecordCallback: %w", domain.ErrNotFound)
	}
	return nil
}

// ClaimEmail flips email_sent for a paid order. Only the caller that gets
// true may send the confirmation.
func (r *OrderRepository) ClaimEmail(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET email_sent = true, email_sent_at = $2
		WHERE id = $1 AND email_sent = false AND status = 'PAID'`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("ClaimEmail: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ClaimEmail: rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *OrderRepository) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM `+r.table+`
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		status, limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: rows: %w", err)
	}
	return out, nil
}

// ExpirePending fails every pending order whose session ended before now and
// returns the rows it changed.
func (r *OrderRepository) ExpirePending(ctx context.Context, now time.Time) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE `+r.table+` SET status = 'FAILED', failed_at = $1, rejection_reason = $2, updated_at = $1
		WHERE status = 'PENDING' AND expires_at < $1
		RETURNING `+orderColumns,
		now, domain.ReasonSessionExpired,
	)
	if err != nil {
		return nil, fmt.Errorf("ExpirePending: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ExpirePending: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExpirePending: rows: %w", err)
	}
	return out, nil
}

// Cleanup deletes failed orders and expired pending orders created before
// cutoff. Paid and refunded orders are never deleted.
func (r *OrderRepository) Cleanup(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+`
		WHERE created_at < $1
		AND (status = 'FAILED' OR (status = 'PENDING' AND expires_at < $2))`,
		cutoff, now,
	)
	if err != nil {
		return 0, fmt.Errorf("Cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("Cleanup: rows affected: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) scan(s scanner) (*domain.Order, error) {
	var o domain.Order
	var remaining, refunded decimal.NullDecimal
	var callback, details *[]byte

	err := s.Scan(
		&o.ID, &o.ExternalOrderID, &o.ProviderOrderID, &o.Currency,
		&o.TotalAmount, &o.PaidAmount, &remaining, &refunded, &o.Status,
		&o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&o.TransactionID, &o.PaymentMethod, &o.RejectionReason, &callback, &details,
		&o.EmailSent, &o.EmailSentAt, &o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt,
		&o.PaidAt, &o.FailedAt, &o.RefundedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Kind = r.kind
	if remaining.Valid {
		o.RemainingAmount = &remaining.Decimal
	}
	if refunded.Valid {
		o.RefundedAmount = &refunded.Decimal
	}
	if callback != nil {
		o.CallbackData = *callback
	}
	if details != nil {
		o.Details = *details
	}
	return &o, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
