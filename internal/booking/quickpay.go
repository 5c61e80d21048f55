package booking

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/notify"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
)

type QuickPaymentRequest struct {
	Slug          string `json:"slug" validate:"required,max=120"`
	Quantity      int    `json:"quantity" validate:"min=1"`
	CustomerName  string `json:"customerName" validate:"required,max=200"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,max=32"`
}

type QuickPaymentDetails struct {
	LinkID      uuid.UUID `json:"linkId"`
	Slug        string    `json:"slug"`
	ProductName string    `json:"productName"`
	UnitPrice   string    `json:"unitPrice"`
	Quantity    int       `json:"quantity"`
}

type QuickPaymentAdapter struct {
	Deps
}

func NewQuickPaymentAdapter(deps Deps) *QuickPaymentAdapter {
	return &QuickPaymentAdapter{Deps: deps}
}

func (a *QuickPaymentAdapter) Kind() domain.OrderKind { return domain.KindQuickPayment }
func (a *QuickPaymentAdapter) Prefix() string         { return "QUICK_ORDER" }

func (a *QuickPaymentAdapter) Quote(ctx context.Context, req QuickPaymentRequest) (*reconcile.Quote[QuickPaymentDetails], error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	link, err := a.Catalog.GetPaymentLinkBySlug(ctx, req.Slug)
	if err != nil {
		return nil, fmt.Errorf("QuickPaymentAdapter.Quote: %w", lookupEntity(err, "slug", "payment link"))
	}
	if !link.Available(a.now()) {
		return nil, inactive("slug", "payment link is no longer active")
	}
	if req.Quantity > link.MaxQuantity {
		return nil, domain.NewValidationError("quantity", "must be at most "+strconv.Itoa(link.MaxQuantity))
	}

	unit := link.UnitPrice.Round(2)
	total := unit.Mul(decimal.NewFromInt(int64(req.Quantity)))

	return &reconcile.Quote[QuickPaymentDetails]{
		Total:  total,
		Charge: total,
		Customer: reconcile.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Items: []bog.Item{{
			ProductID:   link.Slug,
			Description: link.ProductName,
			Quantity:    req.Quantity,
			UnitPrice:   unit,
		}},
		Details: QuickPaymentDetails{
			LinkID:      link.ID,
			Slug:        link.Slug,
			ProductName: link.ProductName,
			UnitPrice:   money(unit),
			Quantity:    req.Quantity,
		},
	}, nil
}

type quickPaymentEmail struct {
	QuickPaymentDetails
	CustomerName    string
	PaidAmount      string
	Currency        string
	ExternalOrderID string
}

func (a *QuickPaymentAdapter) Notify(ctx context.Context, order *domain.Order, d QuickPaymentDetails) error {
	data := quickPaymentEmail{
		QuickPaymentDetails: d,
		CustomerName:        order.CustomerName,
		PaidAmount:          money(order.PaidAmount),
		Currency:            order.Currency,
		ExternalOrderID:     order.ExternalOrderID,
	}
	lines := []notify.Line{
		{Label: "Product", Value: d.ProductName},
		{Label: "Link", Value: d.Slug},
		{Label: "Quantity", Value: strconv.Itoa(d.Quantity)},
		{Label: "Unit price", Value: d.UnitPrice},
	}
	return a.sendConfirmations(ctx, order, notify.TemplateQuickPaymentConfirmation, data, lines)
}
