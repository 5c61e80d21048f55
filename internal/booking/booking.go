// Package booking prices and validates the four purchase flows and renders
// their confirmation emails. Each flow is an adapter for reconcile.Engine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/notify"
)

const dateLayout = "2006-01-02"

type Catalog interface {
	GetTour(ctx context.Context, id uuid.UUID) (*domain.Tour, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error)
	GetSettings(ctx context.Context) (*domain.Settings, error)
}

type Mailer interface {
	Send(ctx context.Context, to, template string, data any) error
}

// Deps is shared by every adapter.
type Deps struct {
	Catalog Catalog
	Mailer  Mailer
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and reports the first violation as a
// *domain.ValidationError named after the JSON field.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("body", err.Error())
	}
	fe := fieldErrs[0]
	return domain.NewValidationError(fieldPath(fe.Namespace()), ruleMessage(fe))
}

// fieldPath drops the root struct name: "TourRequest.customerEmail" -> "customerEmail".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid UUID"
	case "min", "gte":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return "must have at least " + fe.Param() + " items/characters"
		}
		return "must be at least " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.String {
			return "must have at most " + fe.Param() + " items/characters"
		}
		return "must be at most " + fe.Param()
	case "datetime":
		return "must match the format " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "must match the format "+dateLayout)
	}
	return t, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func inactive(field, msg string) error {
	return fmt.Errorf("%w: %w", domain.ErrInactiveProduct, domain.NewValidationError(field, msg))
}

// lookupEntity turns a missing catalog row into a validation error on field.
func lookupEntity(err error, field, what string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewValidationError(field, what+" does not exist")
	}
	return err
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// sendConfirmations mails the customer and then the admin. Both are attempted
// even if the first fails.
func (d Deps) sendConfirmations(ctx context.Context, order *domain.Order, template string, data any, lines []notify.Line) error {
	var errs []error
	if err := d.Mailer.Send(ctx, order.CustomerEmail, template, data); err != nil {
		errs = append(errs, fmt.Errorf("customer email: %w", err))
	}

	settings, err := d.Catalog.GetSettings(ctx)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("admin email: %w", err))
	case settings.AdminEmail == "":
		logging.FromContext(ctx).Warn("admin email not configured, skipping admin notification",
			"external_order_id", order.ExternalOrderID)
	default:
		summary := adminSummary(order, lines)
		if err := d.Mailer.Send(ctx, settings.AdminEmail, notify.TemplateAdminPaymentReceived, summary); err != nil {
			errs = append(errs, fmt.Errorf("admin email: %w", err))
		}
	}
	return errors.Join(errs...)
}

func adminSummary(order *domain.Order, lines []notify.Line) notify.AdminSummary {
	return notify.AdminSummary{
		Kind:            string(order.Kind),
		ExternalOrderID: order.ExternalOrderID,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		PaidAmount:      money(order.PaidAmount),
		TotalAmount:     money(order.TotalAmount),
		Currency:        order.Currency,
		Lines:           lines,
	}
}
