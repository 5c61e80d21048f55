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

type TourRequest struct {
	TourID         string          `json:"tourId" validate:"required,uuid"`
	StartDate      string          `json:"startDate" validate:"required,datetime=2006-01-02"`
	Adults         int             `json:"adults" validate:"min=1"`
	Children       int             `json:"children" validate:"min=0"`
	PaymentAmount  decimal.Decimal `json:"paymentAmount"`
	TotalTourPrice decimal.Decimal `json:"totalTourPrice"`
	// PaymentType true means the full price is paid now.
	PaymentType   bool   `json:"paymentType"`
	CustomerName  string `json:"customerName" validate:"required,max=200"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,max=32"`
	Notes         string `json:"notes" validate:"max=1000"`
}

// TourDetails is the snapshot stored with the order.
type TourDetails struct {
	TourID        uuid.UUID `json:"tourId"`
	TourName      string    `json:"tourName"`
	StartLocation string    `json:"startLocation"`
	EndLocation   string    `json:"endLocation"`
	DurationDays  int       `json:"durationDays"`
	StartDate     string    `json:"startDate"`
	Adults        int       `json:"adults"`
	Children      int       `json:"children"`
	AdultPrice    string    `json:"adultPrice"`
	FullPayment   bool      `json:"fullPayment"`
	Notes         string    `json:"notes,omitempty"`
}

type TourAdapter struct {
	Deps
}

func NewTourAdapter(deps Deps) *TourAdapter {
	return &TourAdapter{Deps: deps}
}

func (a *TourAdapter) Kind() domain.OrderKind { return domain.KindTour }
func (a *TourAdapter) Prefix() string         { return "TOUR_ORDER" }

// TourPrice is adults at the adult price plus children at the child ratio,
// rounded to cents.
func TourPrice(adultPrice decimal.Decimal, adults, children int, childRatio decimal.Decimal) decimal.Decimal {
	adultTotal := adultPrice.Mul(decimal.NewFromInt(int64(adults)))
	childTotal := adultPrice.Mul(childRatio).Mul(decimal.NewFromInt(int64(children)))
	return adultTotal.Add(childTotal).Round(2)
}

func (a *TourAdapter) Quote(ctx context.Context, req TourRequest) (*reconcile.Quote[TourDetails], error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		return nil, err
	}
	if start.Before(today(a.now())) {
		return nil, domain.NewValidationError("startDate", "cannot be in the past")
	}

	tour, err := a.Catalog.GetTour(ctx, uuid.MustParse(req.TourID))
	if err != nil {
		return nil, fmt.Errorf("TourAdapter.Quote: %w", lookupEntity(err, "tourId", "tour"))
	}
	if !tour.IsActive || !tour.IsPublic {
		return nil, inactive("tourId", "tour is not available for booking")
	}
	if group := req.Adults + req.Children; tour.MaxGroupSize > 0 && group > tour.MaxGroupSize {
		return nil, domain.NewValidationError("adults", "group size exceeds the tour maximum of "+strconv.Itoa(tour.MaxGroupSize))
	}

	settings, err := a.Catalog.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("TourAdapter.Quote: %w", err)
	}

	total := TourPrice(tour.AdultPrice, req.Adults, req.Children, settings.ChildPriceRatio)
	if !req.TotalTourPrice.Round(2).Equal(total) {
		return nil, domain.NewValidationError("totalTourPrice", "does not match the current price "+money(total))
	}
	charge := req.PaymentAmount.Round(2)
	if !charge.IsPositive() {
		return nil, domain.NewValidationError("paymentAmount", "must be greater than zero")
	}
	if charge.GreaterThan(total) {
		return nil, domain.NewValidationError("paymentAmount", "cannot exceed the total tour price")
	}
	if req.PaymentType && !charge.Equal(total) {
		return nil, domain.NewValidationError("paymentAmount", "full payment must equal the total tour price")
	}
	remaining := total.Sub(charge)

	return &reconcile.Quote[TourDetails]{
		Total:     total,
		Charge:    charge,
		Remaining: &remaining,
		Customer: reconcile.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Items: []bog.Item{{
			ProductID:   tour.ID.String(),
			Description: tour.Name + " " + req.StartDate,
			Quantity:    1,
			UnitPrice:   charge,
		}},
		Details: TourDetails{
			TourID:        tour.ID,
			TourName:      tour.Name,
			StartLocation: tour.StartLocation,
			EndLocation:   tour.EndLocation,
			DurationDays:  tour.DurationDays,
			StartDate:     req.StartDate,
			Adults:        req.Adults,
			Children:      req.Children,
			AdultPrice:    money(tour.AdultPrice),
			FullPayment:   req.PaymentType,
			Notes:         req.Notes,
		},
	}, nil
}

type tourEmail struct {
	TourDetails
	CustomerName    string
	PaidAmount      string
	RemainingAmount string
	Currency        string
	ExternalOrderID string
}

func (a *TourAdapter) Notify(ctx context.Context, order *domain.Order, d TourDetails) error {
	data := tourEmail{
		TourDetails:     d,
		CustomerName:    order.CustomerName,
		PaidAmount:      money(order.PaidAmount),
		Currency:        order.Currency,
		ExternalOrderID: order.ExternalOrderID,
	}
	if order.RemainingAmount != nil && order.RemainingAmount.IsPositive() {
		data.RemainingAmount = money(*order.RemainingAmount)
	}

	lines := []notify.Line{
		{Label: "Tour", Value: d.TourName},
		{Label: "Start date", Value: d.StartDate},
		{Label: "Adults", Value: strconv.Itoa(d.Adults)},
		{Label: "Children", Value: strconv.Itoa(d.Children)},
	}
	if data.RemainingAmount != "" {
		lines = append(lines, notify.Line{Label: "Remaining", Value: data.RemainingAmount})
	}
	if d.Notes != "" {
		lines = append(lines, notify.Line{Label: "Notes", Value: d.Notes})
	}
	return a.sendConfirmations(ctx, order, notify.TemplateTourConfirmation, data, lines)
}
