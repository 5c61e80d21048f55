// Package app assembles the payment engines and their infrastructure from
// configuration. Both the HTTP server and bookingctl start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/booking"
	"github.com/josh-kwaku/travel-booking-api/internal/config"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/events"
	"github.com/josh-kwaku/travel-booking-api/internal/notify"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
	"github.com/josh-kwaku/travel-booking-api/internal/repository"
	"github.com/josh-kwaku/travel-booking-api/internal/storage"
)

type eventPublisher interface {
	Publish(ctx context.Context, ev events.StatusChanged) error
	Close() error
}

// KindEngine is the kind-independent surface of a reconcile.Engine.
type KindEngine interface {
	Kind() domain.OrderKind
	ResolveStatus(ctx context.Context, ref string) (*reconcile.StatusView, error)
	List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error)
	ExpireStale(ctx context.Context) (int, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Kinds lists every booking kind the API serves.
var Kinds = []domain.OrderKind{domain.KindTour, domain.KindTransfer, domain.KindQuickPayment, domain.KindInsurance}

// RouteSegment is the URL path segment that serves a booking kind.
func RouteSegment(kind domain.OrderKind) string {
	return kind.RouteSegment()
}

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *sql.DB
	Catalog     *repository.CatalogRepository
	Idempotency *repository.IdempotencyRepository
	Gateway     *bog.Client
	Documents   *storage.S3Store

	Tours         *reconcile.Engine[booking.TourRequest, booking.TourDetails]
	Transfers     *reconcile.Engine[booking.TransferRequest, booking.TransferDetails]
	QuickPayments *reconcile.Engine[booking.QuickPaymentRequest, booking.QuickPaymentDetails]
	Insurance     *reconcile.Engine[booking.InsuranceRequest, booking.InsuranceDetails]

	publisher eventPublisher
}

// New connects to the database and builds one engine per booking kind.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  30,
	})
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a, err := assemble(ctx, cfg, logger, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	return a, nil
}

func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*App, error) {
	verifier, err := bog.NewVerifier([]byte(cfg.BOG.PublicKeyPEM))
	if err != nil {
		return nil, err
	}
	gateway := bog.NewClient(bog.Config{
		ClientID:     cfg.BOG.ClientID,
		ClientSecret: cfg.BOG.ClientSecret,
		AuthURL:      cfg.BOG.AuthURL,
		APIURL:       cfg.BOG.APIURL,
		Timeout:      cfg.BOG.Timeout,
	}, bog.NewTokenCache(time.Now))

	var publisher eventPublisher = events.Noop{}
	if cfg.Kafka.Enabled() {
		if err := events.EnsureTopic(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions, logger); err != nil {
			logger.Warn("kafka topic not ensured, publishing anyway", "topic", cfg.Kafka.Topic, "error", err)
		}
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	}

	var sender notify.Sender = notify.NewLogSender(logger)
	if cfg.SMTP.Enabled() {
		sender = notify.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, cfg.SMTP.Timeout)
	}
	mailer, err := notify.NewMailer(sender)
	if err != nil {
		return nil, err
	}

	var (
		s3Store   *storage.S3Store
		documents booking.DocumentStore
	)
	if cfg.S3.Enabled() {
		s3Store, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		}, logger)
		if err != nil {
			return nil, err
		}
		documents = s3Store
	}

	catalog := repository.NewCatalogRepository(db)
	deps := booking.Deps{Catalog: catalog, Mailer: mailer, Now: time.Now}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Catalog:     catalog,
		Idempotency: repository.NewIdempotencyRepository(db),
		Gateway:     gateway,
		Documents:   s3Store,
		publisher:   publisher,
	}

	stores := make(map[domain.OrderKind]*repository.OrderRepository, len(Kinds))
	for _, kind := range Kinds {
		repo, err := repository.NewOrderRepository(db, kind)
		if err != nil {
			return nil, err
		}
		stores[kind] = repo
	}
	opts := func(kind domain.OrderKind) reconcile.Options {
		return reconcile.Options{
			Currency:      cfg.Currency,
			TTL:           cfg.OrderTTL,
			CallbackURL:   cfg.PublicBaseURL + "/api/v1/" + RouteSegment(kind) + "/payments/bog/callback",
			SuccessURL:    cfg.PaymentSuccessURL,
			FailURL:       cfg.PaymentFailURL,
			NotifyTimeout: cfg.NotifyTimeout,
		}
	}

	a.Tours = reconcile.NewEngine[booking.TourRequest, booking.TourDetails](
		booking.NewTourAdapter(deps), stores[domain.KindTour], gateway, verifier, publisher, opts(domain.KindTour))
	a.Transfers = reconcile.NewEngine[booking.TransferRequest, booking.TransferDetails](
		booking.NewTransferAdapter(deps), stores[domain.KindTransfer], gateway, verifier, publisher, opts(domain.KindTransfer))
	a.QuickPayments = reconcile.NewEngine[booking.QuickPaymentRequest, booking.QuickPaymentDetails](
		booking.NewQuickPaymentAdapter(deps), stores[domain.KindQuickPayment], gateway, verifier, publisher, opts(domain.KindQuickPayment))
	a.Insurance = reconcile.NewEngine[booking.InsuranceRequest, booking.InsuranceDetails](
		booking.NewInsuranceAdapter(deps, documents), stores[domain.KindInsurance], gateway, verifier, publisher, opts(domain.KindInsurance))
	return a, nil
}

// Engines lists every booking kind's engine in a stable order.
func (a *App) Engines() []KindEngine {
	return []KindEngine{a.Tours, a.Transfers, a.QuickPayments, a.Insurance}
}

// Engine looks an engine up by its kind name ("tour", "quick_payment", ...)
// or by its route segment ("tours", "quick-payments", ...).
func (a *App) Engine(name string) (KindEngine, error) {
	for _, e := range a.Engines() {
		if k, ok := domain.ParseOrderKind(name); ok && k == e.Kind() {
			return e, nil
		}
	}
	return nil, fmt.Errorf("unknown booking kind %q: %w", name, domain.ErrNotFound)
}

func (a *App) Maintainers() []reconcile.Maintainer {
	engines := a.Engines()
	out := make([]reconcile.Maintainer, 0, len(engines))
	for _, e := range engines {
		out = append(out, e)
	}
	return out
}

// Close flushes the event publisher and closes the database pool.
func (a *App) Close() error {
	return errors.Join(a.publisher.Close(), a.DB.Close())
}
