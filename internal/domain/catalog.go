package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Tour struct {
	ID            uuid.UUID
	Slug          string
	Name          string
	StartLocation string
	EndLocation   string
	DurationDays  int
	AdultPrice    decimal.Decimal
	MaxGroupSize  int
	IsActive      bool
	IsPublic      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Transfer struct {
	ID           uuid.UUID
	Name         string
	FromLocation string
	ToLocation   string
	VehicleType  string
	Price        decimal.Decimal
	Capacity     int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type PaymentLink struct {
	ID          uuid.UUID
	Slug        string
	ProductName string
	Description string
	UnitPrice   decimal.Decimal
	MaxQuantity int
	IsActive    bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Available reports whether the link can still be paid through.
func (l *PaymentLink) Available(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// Settings holds the pricing knobs shared by every booking flow.
type Settings struct {
	ChildPriceRatio     decimal.Decimal
	InsuranceDailyRate  decimal.Decimal
	InsuranceMaxPersons int
	RoundTripMultiplier decimal.Decimal
	AdminEmail          string
	UpdatedAt           time.Time
}
