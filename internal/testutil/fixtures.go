package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

func SeedTour(t *testing.T, db *sql.DB, adultPrice string, maxGroup int) *domain.Tour {
	t.Helper()

	now := time.Now().UTC()
	tour := &domain.Tour{
		ID:            uuid.New(),
		Slug:          "tour-" + uuid.NewString()[:8],
		Name:          "Kazbegi Day Trip",
		StartLocation: "Tbilisi",
		EndLocation:   "Stepantsminda",
		DurationDays:  1,
		AdultPrice:    decimal.RequireFromString(adultPrice),
		MaxGroupSize:  maxGroup,
		IsActive:      true,
		IsPublic:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := db.Exec(
		`INSERT INTO tours (id, slug, name, start_location, end_location, duration_days,
			adult_price, max_group_size, is_active, is_public, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tour.ID, tour.Slug, tour.Name, tour.StartLocation, tour.EndLocation, tour.DurationDays,
		tour.AdultPrice, tour.MaxGroupSize, tour.IsActive, tour.IsPublic, tour.CreatedAt, tour.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed tour: %v", err)
	}
	return tour
}

func SeedPaymentLink(t *testing.T, db *sql.DB, slug, unitPrice string, maxQty int) *domain.PaymentLink {
	t.Helper()

	l := &domain.PaymentLink{
		ID:          uuid.New(),
		Slug:        slug,
		ProductName: "Wine tasting voucher",
		UnitPrice:   decimal.RequireFromString(unitPrice),
		MaxQuantity: maxQty,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO payment_links (id, slug, product_name, description, unit_price, max_quantity, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.Slug, l.ProductName, l.Description, l.UnitPrice, l.MaxQuantity, l.IsActive, l.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed payment link %s: %v", slug, err)
	}
	return l
}

// SeedOrder inserts a pending order of the given kind that expires at expiresAt.
func SeedOrder(t *testing.T, db *sql.DB, table, providerOrderID, amount string, createdAt, expiresAt time.Time) *domain.Order {
	t.Helper()

	id := uuid.New()
	o := &domain.Order{
		ID:              id,
		ExternalOrderID: "TEST_ORDER_" + id.String(),
		ProviderOrderID: &providerOrderID,
		Currency:        "GEL",
		TotalAmount:     decimal.RequireFromString(amount),
		PaidAmount:      decimal.RequireFromString(amount),
		Status:          domain.OrderStatusPending,
		CustomerName:    "Nino Beridze",
		CustomerEmail:   "nino@example.com",
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		ExpiresAt:       expiresAt,
	}
	_, err := db.Exec(fmt.Sprintf(
		`INSERT INTO %s (id, external_order_id, provider_order_id, currency, total_amount, paid_amount,
			status, customer_name, customer_email, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, table),
		o.ID, o.ExternalOrderID, o.ProviderOrderID, o.Currency, o.TotalAmount, o.PaidAmount,
		o.Status, o.CustomerName, o.CustomerEmail, o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
	)
	if err != nil {
		t.Fatalf("seed order in %s: %v", table, err)
	}
	return o
}

func CountOrders(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var count int
	if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		t.Fatalf("count orders in %s: %v", table, err)
	}
	return count
}
