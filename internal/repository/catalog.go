package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

const tourColumns = `id, slug, name, start_location, end_location, duration_days,
	adult_price, max_group_size, is_active, is_public, created_at, updated_at`

const transferColumns = `id, name, from_location, to_location, vehicle_type,
	price, capacity, is_active, created_at, updated_at`

const paymentLinkColumns = `id, slug, product_name, description, unit_price,
	max_quantity, is_active, expires_at, created_at`

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetTour(ctx context.Context, id uuid.UUID) (*domain.Tour, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tourColumns+` FROM tours WHERE id = $1`, id,
	)
	var t domain.Tour
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.StartLocation, &t.EndLocation, &t.DurationDays,
		&t.AdultPrice, &t.MaxGroupSize, &t.IsActive, &t.IsPublic, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetTour: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetTour: %w", err)
	}
	return &t, nil
}

func (r *CatalogRepository) CreateTour(ctx context.Context, t *domain.Tour) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tours (`+tourColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.Slug, t.Name, t.StartLocation, t.EndLocation, t.DurationDays,
		t.AdultPrice, t.MaxGroupSize, t.IsActive, t.IsPublic, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("CreateTour: %w", domain.ErrConflict)
		}
		return fmt.Errorf("CreateTour: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id,
	)
	var t domain.Transfer
	err := row.Scan(
		&t.ID, &t.Name, &t.FromLocation, &t.ToLocation, &t.VehicleType,
		&t.Price, &t.Capacity, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetTransfer: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetTransfer: %w", err)
	}
	return &t, nil
}

func (r *CatalogRepository) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.Name, t.FromLocation, t.ToLocation, t.VehicleType,
		t.Price, t.Capacity, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("CreateTransfer: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentLinkColumns+` FROM payment_links WHERE slug = $1`, slug,
	)
	var l domain.PaymentLink
	err := row.Scan(
		&l.ID, &l.Slug, &l.ProductName, &l.Description, &l.UnitPrice,
		&l.MaxQuantity, &l.IsActive, &l.ExpiresAt, &l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetPaymentLinkBySlug: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetPaymentLinkBySlug: %w", err)
	}
	return &l, nil
}

func (r *CatalogRepository) CreatePaymentLink(ctx context.Context, l *domain.PaymentLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_links (`+paymentLinkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.Slug, l.ProductName, l.Description, l.UnitPrice,
		l.MaxQuantity, l.IsActive, l.ExpiresAt, l.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("CreatePaymentLink: %w", domain.ErrConflict)
		}
		return fmt.Errorf("CreatePaymentLink: %w", err)
	}
	return nil
}

func (r *CatalogRepository) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var s domain.Settings
	err := r.db.QueryRowContext(ctx,
		`SELECT child_price_ratio, insurance_daily_rate, insurance_max_persons,
			round_trip_multiplier, admin_email, updated_at
		FROM settings WHERE id = 1`,
	).Scan(
		&s.ChildPriceRatio, &s.InsuranceDailyRate, &s.InsuranceMaxPersons,
		&s.RoundTripMultiplier, &s.AdminEmail, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetSettings: %w", domain.ErrConfiguration)
		}
		return nil, fmt.Errorf("GetSettings: %w", err)
	}
	return &s, nil
}
