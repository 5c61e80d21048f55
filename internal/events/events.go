// Package events publishes payment order status changes for downstream
// consumers such as reporting and CRM sync.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

const TypeStatusChanged = "payment.status_changed"

type StatusChanged struct {
	Type            string             `json:"type"`
	Kind            domain.OrderKind   `json:"kind"`
	ExternalOrderID string             `json:"external_order_id"`
	ProviderOrderID string             `json:"provider_order_id,omitempty"`
	From            domain.OrderStatus `json:"from"`
	Status          domain.OrderStatus `json:"status"`
	Amount          decimal.Decimal    `json:"amount"`
	Currency        string             `json:"currency"`
	Reason          string             `json:"reason,omitempty"`
	OccurredAt      time.Time          `json:"occurred_at"`
}

func NewStatusChanged(from domain.OrderStatus, o *domain.Order, at time.Time) StatusChanged {
	ev := StatusChanged{
		Type:            TypeStatusChanged,
		Kind:            o.Kind,
		ExternalOrderID: o.ExternalOrderID,
		From:            from,
		Status:          o.Status,
		Amount:          o.PaidAmount,
		Currency:        o.Currency,
		OccurredAt:      at,
	}
	if o.ProviderOrderID != nil {
		ev.ProviderOrderID = *o.ProviderOrderID
	}
	if o.RejectionReason != nil {
		ev.Reason = *o.RejectionReason
	}
	return ev
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, StatusChanged) error { return nil }
func (Noop) Close() error { return nil }
