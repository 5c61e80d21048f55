package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

var (
	testNow    = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	tourID     = uuid.MustParse("5a1a0c34-3b43-4a59-9a8a-3f3c3d6b7a01")
	transferID = uuid.MustParse("9b6ad7a2-4c11-4c8b-9b57-0a4b8f1f2c02")
)

type fakeCatalog struct {
	tours       map[uuid.UUID]*domain.Tour
	transfers   map[uuid.UUID]*domain.Transfer
	links       map[string]*domain.PaymentLink
	settings    *domain.Settings
	settingsErr error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tours: map[uuid.UUID]*domain.Tour{
			tourID: {
				ID: tourID, Slug: "kazbegi", Name: "Kazbegi Day Trip",
				StartLocation: "Tbilisi", EndLocation: "Stepantsminda", DurationDays: 1,
				AdultPrice: decimal.NewFromInt(100), MaxGroupSize: 6, IsActive: true, IsPublic: true,
			},
		},
		transfers: map[uuid.UUID]*domain.Transfer{
			transferID: {
				ID: transferID, Name: "Airport", FromLocation: "TBS Airport", ToLocation: "Old Tbilisi",
				VehicleType: "sedan", Price: decimal.RequireFromString("45.50"), Capacity: 3, IsActive: true,
			},
		},
		links: map[string]*domain.PaymentLink{
			"wine-tasting": {
				ID: uuid.New(), Slug: "wine-tasting", ProductName: "Wine tasting",
				UnitPrice: decimal.RequireFromString("40"), MaxQuantity: 4, IsActive: true,
			},
		},
		settings: &domain.Settings{
			ChildPriceRatio:     decimal.RequireFromString("0.5"),
			InsuranceDailyRate:  decimal.RequireFromString("3.50"),
			InsuranceMaxPersons: 3,
			RoundTripMultiplier: decimal.RequireFromString("1.8"),
			AdminEmail:          "ops@example.com",
		},
	}
}

func (c *fakeCatalog) GetTour(_ context.Context, id uuid.UUID) (*domain.Tour, error) {
	t, ok := c.tours[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) GetTransfer(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	t, ok := c.transfers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (c *fakeCatalog) GetPaymentLinkBySlug(_ context.Context, slug string) (*domain.PaymentLink, error) {
	l, ok := c.links[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (c *fakeCatalog) GetSettings(_ context.Context) (*domain.Settings, error) {
	if c.settingsErr != nil {
		return nil, c.settingsErr
	}
	cp := *c.settings
	return &cp, nil
}

type sentMail struct {
	to       string
	template string
	data     any
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	failTo string
}

func (m *fakeMailer) Send(_ context.Context, to, template string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if to == m.failTo {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, sentMail{to: to, template: template, data: data})
	return nil
}

type fakeDocuments struct {
	objects  map[string][]byte
	failPutN int
	puts     int
	deleted  []string
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{objects: map[string][]byte{}}
}

func (d *fakeDocuments) Put(_ context.Context, key, _ string, body []byte) error {
	d.puts++
	if d.failPutN > 0 && d.puts == d.failPutN {
		return errors.New("s3 put failed")
	}
	d.objects[key] = body
	return nil
}

func (d *fakeDocuments) Delete(_ context.Context, key string) error {
	delete(d.objects, key)
	d.deleted = append(d.deleted, key)
	return nil
}

func (d *fakeDocuments) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://docs.example/" + key, nil
}

func testDeps(c *fakeCatalog, m *fakeMailer) Deps {
	return Deps{Catalog: c, Mailer: m, Now: func() time.Time { return testNow }}
}
