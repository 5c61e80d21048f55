package booking

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/notify"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
)

const (
	maxDocumentSize = 5 << 20
	documentLinkTTL = 7 * 24 * time.Hour
	maxCoverageDays = 365
)

type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type InsuredPerson struct {
	FullName       string `json:"fullName" validate:"required,max=200"`
	BirthDate      string `json:"birthDate" validate:"required,datetime=2006-01-02"`
	PassportNumber string `json:"passportNumber" validate:"required,alphanum,max=20"`
}

// Document content arrives base64 encoded in the JSON body.
type Document struct {
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required,oneof=application/pdf image/jpeg image/png"`
	Content     []byte `json:"content" validate:"required"`
}

type InsuranceRequest struct {
	StartDate     string          `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate       string          `json:"endDate" validate:"required,datetime=2006-01-02"`
	Persons       []InsuredPerson `json:"persons" validate:"required,min=1,dive"`
	Documents     []Document      `json:"documents" validate:"max=5,dive"`
	CustomerName  string          `json:"customerName" validate:"required,max=200"`
	CustomerEmail string          `json:"customerEmail" validate:"required,email"`
	CustomerPhone string          `json:"customerPhone" validate:"required,max=32"`
}

type InsuranceDetails struct {
	StartDate    string          `json:"startDate"`
	EndDate      string          `json:"endDate"`
	Days         int             `json:"days"`
	DailyRate    string          `json:"dailyRate"`
	Persons      []InsuredPerson `json:"persons"`
	DocumentKeys []string        `json:"documentKeys,omitempty"`
}

type InsuranceAdapter struct {
	Deps
	documents DocumentStore
}

// NewInsuranceAdapter builds the insurance flow. documents may be nil, in
// which case requests with attachments are rejected.
func NewInsuranceAdapter(deps Deps, documents DocumentStore) *InsuranceAdapter {
	return &InsuranceAdapter{Deps: deps, documents: documents}
}

func (a *InsuranceAdapter) Kind() domain.OrderKind { return domain.KindInsurance }
func (a *InsuranceAdapter) Prefix() string         { return "INSURANCE_ORDER" }

func InsurancePrice(dailyRate decimal.Decimal, days, persons int) decimal.Decimal {
	return dailyRate.Mul(decimal.NewFromInt(int64(days))).Mul(decimal.NewFromInt(int64(persons))).Round(2)
}

func (a *InsuranceAdapter) Quote(ctx context.Context, req InsuranceRequest) (*reconcile.Quote[InsuranceDetails], error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("endDate", req.EndDate)
	if err != nil {
		return nil, err
	}
	if start.Before(today(a.now())) {
		return nil, domain.NewValidationError("startDate", "cannot be in the past")
	}
	if end.Before(start) {
		return nil, domain.NewValidationError("endDate", "must not be before the start date")
	}
	// both dates are UTC midnights, so the difference is a whole number of days
	days := int((end.Unix()-start.Unix())/86400) + 1
	if days > maxCoverageDays {
		return nil, domain.NewValidationError("endDate", "coverage must not exceed "+strconv.Itoa(maxCoverageDays)+" days")
	}
	for i, doc := range req.Documents {
		if len(doc.Content) > maxDocumentSize {
			return nil, domain.NewValidationError("documents["+strconv.Itoa(i)+"].content", "must be at most 5MB")
		}
	}
	if len(req.Documents) > 0 && a.documents == nil {
		return nil, domain.NewValidationError("documents", "document uploads are not enabled")
	}

	settings, err := a.Catalog.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("InsuranceAdapter.Quote: %w", err)
	}
	if settings.InsuranceMaxPersons > 0 && len(req.Persons) > settings.InsuranceMaxPersons {
		return nil, domain.NewValidationError("persons", "must have at most "+strconv.Itoa(settings.InsuranceMaxPersons)+" insured persons")
	}

	total := InsurancePrice(settings.InsuranceDailyRate, days, len(req.Persons))

	keys, err := a.upload(ctx, req.Documents)
	if err != nil {
		return nil, fmt.Errorf("InsuranceAdapter.Quote: %w", err)
	}

	return &reconcile.Quote[InsuranceDetails]{
		Total:  total,
		Charge: total,
		Customer: reconcile.Customer{
			Name:  req.CustomerName,
			Email: req.CustomerEmail,
			Phone: req.CustomerPhone,
		},
		Items: []bog.Item{{
			ProductID:   "travel-insurance",
			Description: "Travel insurance " + req.StartDate + " - " + req.EndDate,
			Quantity:    len(req.Persons),
			UnitPrice:   settings.InsuranceDailyRate.Mul(decimal.NewFromInt(int64(days))).Round(2),
		}},
		Details: InsuranceDetails{
			StartDate:    req.StartDate,
			EndDate:      req.EndDate,
			Days:         days,
			DailyRate:    money(settings.InsuranceDailyRate),
			Persons:      req.Persons,
			DocumentKeys: keys,
		},
		Rollback: func(ctx context.Context) error {
			return a.remove(ctx, keys)
		},
	}, nil
}

// upload stores every document or none of them.
func (a *InsuranceAdapter) upload(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	batch := uuid.NewString()
	keys := make([]string, 0, len(docs))
	for i, doc := range docs {
		key := path.Join("insurance", batch, strconv.Itoa(i)+"-"+cleanFileName(doc.FileName))
		if err := a.documents.Put(ctx, key, doc.ContentType, doc.Content); err != nil {
			if rmErr := a.remove(ctx, keys); rmErr != nil {
				logging.FromContext(ctx).Error("partial document upload not cleaned up", "keys", keys, "error", rmErr)
			}
			return nil, fmt.Errorf("upload: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (a *InsuranceAdapter) remove(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := a.documents.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}

type insuranceEmail struct {
	InsuranceDetails
	CustomerName    string
	PaidAmount      string
	Currency        string
	ExternalOrderID string
}

func (a *InsuranceAdapter) Notify(ctx context.Context, order *domain.Order, d InsuranceDetails) error {
	data := insuranceEmail{
		InsuranceDetails: d,
		CustomerName:     order.CustomerName,
		PaidAmount:       money(order.PaidAmount),
		Currency:         order.Currency,
		ExternalOrderID:  order.ExternalOrderID,
	}

	lines := []notify.Line{
		{Label: "Period", Value: d.StartDate + " - " + d.EndDate + " (" + strconv.Itoa(d.Days) + " days)"},
	}
	for _, p := range d.Persons {
		lines = append(lines, notify.Line{Label: "Insured", Value: p.FullName + ", " + p.BirthDate + ", " + p.PassportNumber})
	}
	for _, key := range d.DocumentKeys {
		lines = append(lines, notify.Line{Label: "Document", Value: a.documentLink(ctx, key)})
	}
	return a.sendConfirmations(ctx, order, notify.TemplateInsuranceConfirmation, data, lines)
}

func (a *InsuranceAdapter) documentLink(ctx context.Context, key string) string {
	if a.documents == nil {
		return key
	}
	u, err := a.documents.URL(ctx, key, documentLinkTTL)
	if err != nil {
		logging.FromContext(ctx).Warn("document link not generated", "key", key, "error", err)
		return key
	}
	return u
}
