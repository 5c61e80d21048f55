// Package reconcile keeps local payment orders in agreement with the BOG
// gateway. One Engine serves each booking kind; the kind specific pricing,
// validation and emails live behind an Adapter.
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
	"github.com/josh-kwaku/travel-booking-api/internal/events"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

type orderStore interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Find(ctx context.Context, providerOrderID, externalOrderID string) (*domain.Order, error)
	ApplyTransition(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, t domain.Transition) (*domain.Order, error)
	RecordCallback(ctx context.Context, id uuid.UUID, payload []byte, at time.Time) error
	ClaimEmail(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error)
	ExpirePending(ctx context.Context, now time.Time) ([]*domain.Order, error)
	Cleanup(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type provider interface {
	CreateOrder(ctx context.Context, req bog.OrderRequest) (*bog.CreatedOrder, error)
	Receipt(ctx context.Context, providerOrderID string) (*bog.OrderDetails, error)
}

type verifier interface {
	Verify(body []byte, signature string) bool
}

type publisher interface {
	Publish(ctx context.Context, ev events.StatusChanged) error
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

// Quote is an adapter's priced and validated purchase.
type Quote[D any] struct {
	Total     decimal.Decimal
	Charge    decimal.Decimal
	Remaining *decimal.Decimal
	Customer  Customer
	Items     []bog.Item
	Details   D
	// Rollback undoes side artifacts created while quoting. May be nil.
	Rollback func(ctx context.Context) error
}

// Adapter supplies the parts of a payment flow that differ per booking kind.
type Adapter[Req, D any] interface {
	Kind() domain.OrderKind
	Prefix() string
	Quote(ctx context.Context, req Req) (*Quote[D], error)
	Notify(ctx context.Context, order *domain.Order, details D) error
}

type Options struct {
	Currency    string
	TTL         time.Duration
	CallbackURL string
	SuccessURL  string
	FailURL     string
	Now         func() time.Time

	// NotifyTimeout bounds the paid notification so a slow mail server
	// cannot hold up a callback or status poll. Defaults to 15s.
	NotifyTimeout time.Duration
}

type Engine[Req, D any] struct {
	adapter   Adapter[Req, D]
	store     orderStore
	provider  provider
	verifier  verifier
	publisher publisher
	opts      Options
}

func NewEngine[Req, D any](
	adapter Adapter[Req, D],
	store orderStore,
	provider provider,
	verifier verifier,
	publisher publisher,
	opts Options,
) *Engine[Req, D] {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "GEL"
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 15 * time.Second
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine[Req, D]{
		adapter:   adapter,
		store:     store,
		provider:  provider,
		verifier:  verifier,
		publisher: publisher,
		opts:      opts,
	}
}

func (e *Engine[Req, D]) Kind() domain.OrderKind { return e.adapter.Kind() }

type Initiated struct {
	OrderID          uuid.UUID
	ExternalOrderID  string
	ProviderOrderID  string
	PaymentURL       string
	Amount           decimal.Decimal
	Total            decimal.Decimal
	Remaining        *decimal.Decimal
	Currency         string
	ExpiresAt        time.Time
	ExpiresInMinutes int
}

// Initiate validates and prices the purchase, registers it with the gateway
// and stores a pending order. No email is sent here.
func (e *Engine[Req, D]) Initiate(ctx context.Context, req Req) (*Initiated, error) {
	log := logging.FromContext(ctx).With("kind", e.adapter.Kind())

	quote, err := e.adapter.Quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Initiate: %w", err)
	}
	if err := checkAmounts(quote.Total, quote.Charge, quote.Remaining); err != nil {
		e.rollback(ctx, quote.Rollback)
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	details, err := json.Marshal(quote.Details)
	if err != nil {
		e.rollback(ctx, quote.Rollback)
		return nil, fmt.Errorf("Initiate: marshal details: %w", err)
	}

	orderID := uuid.New()
	externalID := e.adapter.Prefix() + "_" + orderID.String()

	created, err := e.provider.CreateOrder(ctx, bog.OrderRequest{
		ExternalOrderID: externalID,
		IdempotencyKey:  orderID.String(),
		CallbackURL:     e.opts.CallbackURL,
		SuccessURL:      e.opts.SuccessURL,
		FailURL:         e.opts.FailURL,
		Currency:        e.opts.Currency,
		Total:           quote.Charge,
		Items:           quote.Items,
		TTL:             e.opts.TTL,
	})
	if err != nil {
		log.Error("provider order creation failed", "external_order_id", externalID, "error", err)
		e.rollback(ctx, quote.Rollback)
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	now := e.opts.Now().UTC()
	order := &domain.Order{
		ID:              orderID,
		Kind:            e.adapter.Kind(),
		ExternalOrderID: externalID,
		ProviderOrderID: &created.ProviderOrderID,
		Currency:        e.opts.Currency,
		TotalAmount:     quote.Total,
		PaidAmount:      quote.Charge,
		RemainingAmount: quote.Remaining,
		Status:          domain.OrderStatusPending,
		CustomerName:    quote.Customer.Name,
		CustomerEmail:   quote.Customer.Email,
		CustomerPhone:   quote.Customer.Phone,
		Details:         details,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(e.opts.TTL),
	}
	if err := e.store.Create(ctx, order); err != nil {
		// The gateway order now has no local record. It expires on the
		// gateway side after the TTL.
		log.Error("pending order not persisted after provider create",
			"external_order_id", externalID,
			"provider_order_id", created.ProviderOrderID,
			"error", err,
		)
		e.rollback(ctx, quote.Rollback)
		return nil, fmt.Errorf("Initiate: %w", err)
	}

	log.Info("payment initiated",
		"order_id", order.ID,
		"external_order_id", externalID,
		"provider_order_id", created.ProviderOrderID,
		"amount", quote.Charge.String(),
	)

	return &Initiated{
		OrderID:          order.ID,
		ExternalOrderID:  externalID,
		ProviderOrderID:  created.ProviderOrderID,
		PaymentURL:       created.PaymentURL,
		Amount:           quote.Charge,
		Total:            quote.Total,
		Remaining:        quote.Remaining,
		Currency:         order.Currency,
		ExpiresAt:        order.ExpiresAt,
		ExpiresInMinutes: int(e.opts.TTL / time.Minute),
	}, nil
}

func checkAmounts(total, charge decimal.Decimal, remaining *decimal.Decimal) error {
	if !total.IsPositive() {
		return domain.NewValidationError("total", "total price must be greater than zero")
	}
	if !charge.IsPositive() {
		return domain.NewValidationError("paymentAmount", "payment amount must be greater than zero")
	}
	if charge.GreaterThan(total) {
		return domain.NewValidationError("paymentAmount", "payment amount cannot exceed the total price")
	}
	if remaining != nil && !remaining.Add(charge).Equal(total) {
		return domain.NewValidationError("remainingAmount", "remaining amount does not match total minus payment")
	}
	return nil
}

func (e *Engine[Req, D]) rollback(ctx context.Context, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logging.FromContext(ctx).Error("rollback of side artifacts failed", "kind", e.adapter.Kind(), "error", err)
	}
}

type CallbackResult struct {
	ExternalOrderID string
	Status          domain.OrderStatus
	Changed         bool
}

// HandleCallback authenticates and applies a gateway callback. The signature
// is checked over the raw body before it is parsed.
func (e *Engine[Req, D]) HandleCallback(ctx context.Context, raw []byte, signature string) (*CallbackResult, error) {
	log := logging.FromContext(ctx).With("kind", e.adapter.Kind())

	if signature == "" || !e.verifier.Verify(raw, signature) {
		log.Warn("callback rejected: invalid signature", "has_signature", signature != "")
		return nil, fmt.Errorf("HandleCallback: %w: invalid callback signature", domain.ErrAuthentication)
	}

	var cb bog.Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		log.Warn("callback rejected: malformed body", "error", err)
		return nil, fmt.Errorf("HandleCallback: %w", domain.NewValidationError("body", "malformed callback payload"))
	}
	if cb.Event != bog.EventOrderPayment {
		log.Warn("callback rejected: unexpected event", "event", cb.Event)
		return nil, fmt.Errorf("HandleCallback: %w", domain.NewValidationError("event", "unsupported callback event "+cb.Event))
	}

	order, err := e.store.Find(ctx, cb.Body.OrderID, cb.Body.ExternalOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Error("callback for unknown order",
				"provider_order_id", cb.Body.OrderID,
				"external_order_id", cb.Body.ExternalOrderID,
				"status_key", cb.Body.OrderStatus.Key,
			)
		}
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}

	from := order.Status
	updated, err := e.apply(ctx, order, &cb.Body, raw)
	if err != nil {
		return nil, fmt.Errorf("HandleCallback: %w", err)
	}

	log.Info("callback processed",
		"external_order_id", updated.ExternalOrderID,
		"status_key", cb.Body.OrderStatus.Key,
		"from", from,
		"to", updated.Status,
	)
	return &CallbackResult{
		ExternalOrderID: updated.ExternalOrderID,
		Status:          updated.Status,
		Changed:         from != updated.Status,
	}, nil
}

// apply brings order in line with the gateway's view. payload is stored as
// the audit copy of what the gateway said.
func (e *Engine[Req, D]) apply(ctx context.Context, order *domain.Order, details *bog.OrderDetails, payload []byte) (*domain.Order, error) {
	log := logging.FromContext(ctx)
	now := e.opts.Now().UTC()
	target := details.Status()

	if target == domain.OrderStatusPending {
		if len(payload) > 0 {
			if err := e.store.RecordCallback(ctx, order.ID, payload, now); err != nil {
				return nil, fmt.Errorf("apply: %w", err)
			}
			order.CallbackData = payload
		}
		return order, nil
	}

	if order.Status == target {
		if target == domain.OrderStatusPaid {
			e.notifyOnce(ctx, order)
		}
		return order, nil
	}

	if !domain.CanTransition(order.Status, target) {
		log.Error("gateway status conflicts with local order, manual review required",
			"external_order_id", order.ExternalOrderID,
			"local_status", order.Status,
			"gateway_status", target,
		)
		return order, nil
	}

	t := domain.Transition{To: target, At: now, CallbackData: payload}
	switch target {
	case domain.OrderStatusPaid:
		t.TransactionID = optional(details.PaymentDetail.TransactionID)
		t.PaymentMethod = optional(details.PaymentMethod())
	case domain.OrderStatusFailed:
		reason := details.FailureReason()
		t.RejectionReason = &reason
	case domain.OrderStatusRefunded:
		t.RefundedAmount = details.PurchaseUnits.RefundAmount
	}

	return e.transition(ctx, order, t)
}

// transition writes t and handles losing a race against another writer by
// returning the row as that writer left it.
func (e *Engine[Req, D]) transition(ctx context.Context, order *domain.Order, t domain.Transition) (*domain.Order, error) {
	updated, err := e.store.ApplyTransition(ctx, order.ID, domain.SourcesFor(t.To), t)
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return nil, fmt.Errorf("transition: %w", err)
		}
		current, getErr := e.store.GetByID(ctx, order.ID)
		if getErr != nil {
			return nil, fmt.Errorf("transition: reload: %w", getErr)
		}
		if current.Status == domain.OrderStatusPaid {
			e.notifyOnce(ctx, current)
		}
		return current, nil
	}

	e.publish(ctx, order.Status, updated, t.At)
	if updated.Status == domain.OrderStatusPaid {
		e.notifyOnce(ctx, updated)
	}
	return updated, nil
}

// notifyOnce sends the paid notifications if this caller wins the email claim.
// Send failures are logged and never undo the payment.
func (e *Engine[Req, D]) notifyOnce(ctx context.Context, order *domain.Order) {
	log := logging.FromContext(ctx)
	if order.EmailSent {
		return
	}

	claimed, err := e.store.ClaimEmail(ctx, order.ID, e.opts.Now().UTC())
	if err != nil {
		log.Error("email claim failed", "external_order_id", order.ExternalOrderID, "error", err)
		return
	}
	if !claimed {
		return
	}
	order.EmailSent = true

	var details D
	if len(order.Details) > 0 {
		if err := json.Unmarshal(order.Details, &details); err != nil {
			log.Error("order details unreadable for notification", "external_order_id", order.ExternalOrderID, "error", err)
		}
	}
	// the claim is already taken, so the send outlives a caller that hangs up
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()
	if err := e.adapter.Notify(nctx, order, details); err != nil {
		log.Error("payment notification failed", "external_order_id", order.ExternalOrderID, "error", err)
		return
	}
	log.Info("payment notification sent", "external_order_id", order.ExternalOrderID)
}

func (e *Engine[Req, D]) publish(ctx context.Context, from domain.OrderStatus, order *domain.Order, at time.Time) {
	if err := e.publisher.Publish(ctx, events.NewStatusChanged(from, order, at)); err != nil {
		logging.FromContext(ctx).Warn("status event not published", "external_order_id", order.ExternalOrderID, "error", err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
