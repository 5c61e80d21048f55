package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusFailed, true},
		{OrderStatusPending, OrderStatusRefunded, true},
		{OrderStatusPaid, OrderStatusRefunded, true},
		{OrderStatusPaid, OrderStatusFailed, false},
		{OrderStatusPaid, OrderStatusPending, false},
		{OrderStatusFailed, OrderStatusPaid, false},
		{OrderStatusFailed, OrderStatusPending, false},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusPaid, OrderStatusPaid, false},
		{OrderStatusPending, OrderStatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []OrderStatus{OrderStatusPending}, SourcesFor(OrderStatusPaid))
	assert.ElementsMatch(t, []OrderStatus{OrderStatusPending}, SourcesFor(OrderStatusFailed))
	assert.ElementsMatch(t, []OrderStatus{OrderStatusPending, OrderStatusPaid}, SourcesFor(OrderStatusRefunded))
	assert.Empty(t, SourcesFor(OrderStatusPending))
}

func TestParseOrderKind(t *testing.T) {
	tests := []struct {
		in   string
		want OrderKind
		ok   bool
	}{
		{"tour", KindTour, true},
		{"tours", KindTour, true},
		{"quick_payment", KindQuickPayment, true},
		{"quick-payments", KindQuickPayment, true},
		{"transfers", KindTransfer, true},
		{"insurance", KindInsurance, true},
		{"cruise", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseOrderKind(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		if ok {
			assert.NotEmpty(t, got.RouteSegment())
		}
	}
}

func TestOrderExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{Status: OrderStatusPending, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, o.Expired(now))

	o.ExpiresAt = now.Add(time.Minute)
	assert.False(t, o.Expired(now))

	o.Status = OrderStatusPaid
	o.ExpiresAt = now.Add(-time.Hour)
	assert.False(t, o.Expired(now))
}

func TestValidationErrorUnwrap(t *testing.T) {
	err := NewValidationError("paymentAmount", "must be greater than zero")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "paymentAmount: must be greater than zero", err.Error())
}

func TestPaymentLinkAvailable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&PaymentLink{IsActive: true}).Available(now))
	assert.True(t, (&PaymentLink{IsActive: true, ExpiresAt: &future}).Available(now))
	assert.False(t, (&PaymentLink{IsActive: true, ExpiresAt: &past}).Available(now))
	assert.False(t, (&PaymentLink{IsActive: false}).Available(now))
}
