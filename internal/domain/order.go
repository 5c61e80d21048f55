package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	KindTour         OrderKind = "tour"
	KindTransfer     OrderKind = "transfer"
	KindQuickPayment OrderKind = "quick_payment"
	KindInsurance    OrderKind = "insurance"
)

func (k OrderKind) Valid() bool {
	switch k {
	case KindTour, KindTransfer, KindQuickPayment, KindInsurance:
		return true
	}
	return false
}

var routeSegments = map[OrderKind]string{
	KindTour:         "tours",
	KindTransfer:     "transfers",
	KindQuickPayment: "quick-payments",
	KindInsurance:    "insurance",
}

// RouteSegment is the URL path segment that serves the kind.
func (k OrderKind) RouteSegment() string {
	return routeSegments[k]
}

// ParseOrderKind accepts either a kind name ("quick_payment") or its route
// segment ("quick-payments").
func ParseOrderKind(s string) (OrderKind, bool) {
	for k, seg := range routeSegments {
		if string(k) == s || seg == s {
			return k, true
		}
	}
	return "", false
}

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusPaid     OrderStatus = "PAID"
	OrderStatusFailed   OrderStatus = "FAILED"
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed || s == OrderStatusRefunded
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded},
	OrderStatusPaid:    {OrderStatusRefunded},
}

// CanTransition reports whether an order in from may move to to.
// Staying in the same status is not a transition.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses from which to is reachable.
func SourcesFor(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for from, targets := range transitions {
		for _, s := range targets {
			if s == to {
				out = append(out, from)
			}
		}
	}
	return out
}

const (
	ReasonSessionExpired = "session expired"
	ReasonPaymentFailed  = "payment failed"
)

type Order struct {
	ID              uuid.UUID
	Kind            OrderKind
	ExternalOrderID string
	ProviderOrderID *string
	Currency        string
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount *decimal.Decimal
	RefundedAmount  *decimal.Decimal
	Status          OrderStatus
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	TransactionID   *string
	PaymentMethod   *string
	RejectionReason *string
	CallbackData    json.RawMessage
	Details         json.RawMessage
	EmailSent       bool
	EmailSentAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
	FailedAt        *time.Time
	RefundedAt      *time.Time
}

// Expired reports whether a pending order has outlived its payment session.
func (o *Order) Expired(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.ExpiresAt)
}

// Transition carries the fields written together with a status change.
type Transition struct {
	To              OrderStatus
	At              time.Time
	TransactionID   *string
	PaymentMethod   *string
	RejectionReason *string
	RefundedAmount  *decimal.Decimal
	CallbackData    json.RawMessage
}

type OrderFilter struct {
	Status *OrderStatus
	Limit  int
	Offset int
}
