package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

const (
	descPaid         = "payment completed"
	descRefunded     = "payment refunded"
	descProcessing   = "payment is still processing"
	descUnverifiable = "unable to verify payment status, please try again shortly"
)

// StatusView is what a customer polling for their payment sees. Success is
// nil while the outcome is not known yet.
type StatusView struct {
	OrderID         uuid.UUID
	ExternalOrderID string
	ProviderOrderID string
	Status          domain.OrderStatus
	Success         *bool
	Verified        bool
	Description     string
	Currency        string
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount *decimal.Decimal
	RefundedAmount  *decimal.Decimal
	RejectionReason *string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
	FailedAt        *time.Time
	RefundedAt      *time.Time
}

// ResolveStatus reports the order's payment status, asking the gateway only
// while the order is pending and inside its session window.
func (e *Engine[Req, D]) ResolveStatus(ctx context.Context, ref string) (*StatusView, error) {
	log := logging.FromContext(ctx).With("kind", e.adapter.Kind())

	order, err := e.lookup(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("ResolveStatus: %w", err)
	}

	if order.Status.IsTerminal() {
		return newStatusView(order, true), nil
	}

	if order.Expired(e.opts.Now()) {
		expired, err := e.expire(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("ResolveStatus: %w", err)
		}
		return newStatusView(expired, true), nil
	}

	if order.ProviderOrderID == nil || *order.ProviderOrderID == "" {
		return newStatusView(order, true), nil
	}

	receipt, err := e.provider.Receipt(ctx, *order.ProviderOrderID)
	if err != nil {
		if errors.Is(err, bog.ErrOrderNotFound) {
			if order.Expired(e.opts.Now()) {
				expired, err := e.expire(ctx, order)
				if err != nil {
					return nil, fmt.Errorf("ResolveStatus: %w", err)
				}
				return newStatusView(expired, true), nil
			}
			return newStatusView(order, true), nil
		}
		log.Warn("receipt lookup failed, returning unverified status",
			"external_order_id", order.ExternalOrderID,
			"error", err,
		)
		view := newStatusView(order, false)
		view.Description = descUnverifiable
		return view, nil
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("ResolveStatus: marshal receipt: %w", err)
	}
	if receipt.Status() == domain.OrderStatusPending {
		// polling must not write on every request
		payload = nil
	}

	updated, err := e.apply(ctx, order, receipt, payload)
	if err != nil {
		return nil, fmt.Errorf("ResolveStatus: %w", err)
	}
	return newStatusView(updated, true), nil
}

// lookup resolves an order reference: an internal id first, then the provider
// or external order id.
func (e *Engine[Req, D]) lookup(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.NewValidationError("ref", "order reference is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		o, err := e.store.GetByID(ctx, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return e.store.Find(ctx, ref, ref)
}

func (e *Engine[Req, D]) expire(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	reason := domain.ReasonSessionExpired
	logging.FromContext(ctx).Info("pending order expired",
		"kind", e.adapter.Kind(),
		"external_order_id", order.ExternalOrderID,
		"expires_at", order.ExpiresAt,
	)
	return e.transition(ctx, order, domain.Transition{
		To:              domain.OrderStatusFailed,
		At:              e.opts.Now().UTC(),
		RejectionReason: &reason,
	})
}

func newStatusView(o *domain.Order, verified bool) *StatusView {
	v := &StatusView{
		OrderID:         o.ID,
		ExternalOrderID: o.ExternalOrderID,
		Status:          o.Status,
		Verified:        verified,
		Currency:        o.Currency,
		TotalAmount:     o.TotalAmount,
		PaidAmount:      o.PaidAmount,
		RemainingAmount: o.RemainingAmount,
		RefundedAmount:  o.RefundedAmount,
		RejectionReason: o.RejectionReason,
		CreatedAt:       o.CreatedAt,
		ExpiresAt:       o.ExpiresAt,
		PaidAt:          o.PaidAt,
		FailedAt:        o.FailedAt,
		RefundedAt:      o.RefundedAt,
	}
	if o.ProviderOrderID != nil {
		v.ProviderOrderID = *o.ProviderOrderID
	}

	switch o.Status {
	case domain.OrderStatusPaid:
		v.Success = boolPtr(true)
		v.Description = descPaid
	case domain.OrderStatusRefunded:
		v.Success = boolPtr(false)
		v.Description = descRefunded
	case domain.OrderStatusFailed:
		v.Success = boolPtr(false)
		reason := domain.ReasonPaymentFailed
		if o.RejectionReason != nil && *o.RejectionReason != "" {
			reason = *o.RejectionReason
		}
		v.Description = "payment failed: " + reason
	default:
		v.Description = descProcessing
	}
	return v
}

func boolPtr(b bool) *bool { return &b }

func (e *Engine[Req, D]) List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	orders, err := e.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return orders, nil
}

// ExpireStale fails every pending order past its session window. It is the
// batch form of the lazy expiry done by ResolveStatus.
func (e *Engine[Req, D]) ExpireStale(ctx context.Context) (int, error) {
	now := e.opts.Now().UTC()
	expired, err := e.store.ExpirePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("ExpireStale: %w", err)
	}
	for _, o := range expired {
		e.publish(ctx, domain.OrderStatusPending, o, now)
	}
	return len(expired), nil
}

// Cleanup deletes failed and expired pending orders older than olderThan.
func (e *Engine[Req, D]) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("Cleanup: %w", domain.NewValidationError("olderThan", "must be positive"))
	}
	now := e.opts.Now().UTC()
	n, err := e.store.Cleanup(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, fmt.Errorf("Cleanup: %w", err)
	}
	logging.FromContext(ctx).Info("orders cleaned up", "kind", e.adapter.Kind(), "deleted", n, "older_than", olderThan)
	return n, nil
}
