package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/notify"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
)

type TransferRequest struct {
	TransferID    string     `json:"transferId" validate:"required,uuid"`
	PickupTime    time.Time  `json:"pickupTime" validate:"required"`
	PickupAddress string     `json:"pickupAddress" validate:"required,max=300"`
	FlightNumber  string     `json:"flightNumber" validate:"omitempty,max=16"`
	Passengers    int        `json:"passengers" validate:"min=1"`
	RoundTrip     bool       `json:"roundTrip"`
	ReturnTime    *time.Time `json:"returnTime"`
	CustomerName  string     `json:"customerName" validate:"required,max=200"`
	CustomerEmail string     `json:"customerEmail" validate:"required,email"`
	CustomerPhone string     `json:"customerPhone" validate:"required,max=32"`
}

type TransferDetails struct {
	TransferID    uuid.UUID `json:"transferId"`
	FromLocation  string    `json:"fromLocation"`
	ToLocation    string    `json:"toLocation"`
	VehicleType   string    `json:"vehicleType"`
	PickupTime    string    `json:"pickupTime"`
	PickupAddress string    `json:"pickupAddress"`
	FlightNumber  string    `json:"flightNumber,omitempty"`
	Passengers    int       `json:"passengers"`
	RoundTrip     bool      `json:"roundTrip"`
	ReturnTime    string    `json:"returnTime,omitempty"`
}

type TransferAdapter struct {
	Deps
}

func NewTransferAdapter(deps Deps) *TransferAdapter {
	return &TransferAdapter{Deps: deps}
}

func (a *TransferAdapter) Kind() domain.OrderKind { return domain.KindTransfer }
func (a *TransferAdapter) Prefix() string         { return "TRANSFER_ORDER" }

func TransferPrice(price decimal.Decimal, roundTrip bool, multiplier decimal.Decimal) decimal.Decimal {
	if roundTrip {
		return price.Mul(multiplier).Round(2)
	}
	return price.Round(2)
}

func (a *TransferAdapter) Quote(ctx context.Context, req TransferRequest) (*reconcile.Quote[TransferDetails], error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	now := a.now()
	if !req.PickupTime.After(now) {
		return nil, domain.NewValidationError("pickupTime", "must be in the future")
	}
	if req.RoundTrip {
		if req.ReturnTime == nil {
			return nil, domain.NewValidationError("returnTime", "is required for a round trip")
		}
		if !req.ReturnTime.After(req.PickupTime) {
			return nil, domain.NewValidationError("returnTime", "must be after the pickup time")
		}
	}

	transfer, err := a.Catalog.GetTransfer(ctx, uuid.MustParse(req.TransferID))
	if err != nil {
		return nil, fmt.Errorf("TransferAdapter.Quote: %w", lookupEntity(err, "transferId", "transfer"))
	}
	if !transfer.IsActive {
		return nil, inactive("transferId", "transfer is not available for booking")
	}
	if transfer.Capacity > 0 && req.Passengers > transfer.Capacity {
		return nil, domain.NewValidationError("passengers", "exceeds the vehicle capacity of "+strconv.Itoa(transfer.Capacity))
	}

	settings, err := a.Catalog.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("TransferAdapter.Quote: %w", err)
	}
	total := TransferPrice(transfer.Price, req.RoundTrip, settings.RoundTripMultiplier)

	details := TransferDetails{
		TransferID:    transfer.ID,
		FromLocation:  transfer.FromLocation,
		ToLocation:    transfer.ToLocation,
		VehicleType:   transfer.VehicleType,
		PickupTime:    req.PickupTime.UTC().Format(time.RFC3339),
		PickupAddress: req.PickupAddress,
		FlightNumber:  req.FlightNumber,
		Passengers:    req.Passengers,
		RoundTrip:     req.RoundTrip,
	}
	if req.RoundTrip {
		details.ReturnTime = req.ReturnTime.UTC().Format(time.RFC3339)
	}

	return &reconcile.Quote[TransferDetails]{
		Total:  total,
		Charge: total,
		Customer: reconcile.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Items: []bog.Item{{
			ProductID:   transfer.ID.String(),
			Description: transfer.FromLocation + " - " + transfer.ToLocation,
			Quantity:    1,
			UnitPrice:   total,
		}},
		Details: details,
	}, nil
}

type transferEmail struct {
	TransferDetails
	CustomerName    string
	PaidAmount      string
	Currency        string
	ExternalOrderID string
}

func (a *TransferAdapter) Notify(ctx context.Context, order *domain.Order, d TransferDetails) error {
	data := transferEmail{
		TransferDetails: d,
		CustomerName:    order.CustomerName,
		PaidAmount:      money(order.PaidAmount),
		Currency:        order.Currency,
		ExternalOrderID: order.ExternalOrderID,
	}
	lines := []notify.Line{
		{Label: "Route", Value: d.FromLocation + " - " + d.ToLocation},
		{Label: "Vehicle", Value: d.VehicleType},
		{Label: "Pickup", Value: d.PickupTime + ", " + d.PickupAddress},
		{Label: "Passengers", Value: strconv.Itoa(d.Passengers)},
	}
	if d.FlightNumber != "" {
		lines = append(lines, notify.Line{Label: "Flight", Value: d.FlightNumber})
	}
	if d.RoundTrip {
		lines = append(lines, notify.Line{Label: "Return", Value: d.ReturnTime})
	}
	return a.sendConfirmations(ctx, order, notify.TemplateTransferConfirmation, data, lines)
}
