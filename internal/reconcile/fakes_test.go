package reconcile

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/events"
)

type memStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	calls     int
	createErr error
}

func newMemStore() *memStore {
	return &memStore{orders: map[uuid.UUID]*domain.Order{}}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	return &c
}

func (s *memStore) touch() {
	s.calls++
}

func (s *memStore) Create(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.createErr != nil {
		return s.createErr
	}
	s.orders[o.ID] = clone(o)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(o), nil
}

func (s *memStore) Find(_ context.Context, providerOrderID, externalOrderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	var byProvider *domain.Order
	for _, o := range s.orders {
		if externalOrderID != "" && o.ExternalOrderID == externalOrderID {
			return clone(o), nil
		}
		if providerOrderID != "" && o.ProviderOrderID != nil && *o.ProviderOrderID == providerOrderID {
			byProvider = o
		}
	}
	if byProvider != nil {
		return clone(byProvider), nil
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) ApplyTransition(_ context.Context, id uuid.UUID, from []domain.OrderStatus, t domain.Transition) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	o, ok := s.orders[id]
	if !ok || !slices.Contains(from, o.Status) {
		return nil, domain.ErrInvalidTransition
	}
	o.Status = t.To
	o.UpdatedAt = t.At
	if len(t.CallbackData) > 0 {
		o.CallbackData = t.CallbackData
	}
	at := t.At
	switch t.To {
	case domain.OrderStatusPaid:
		o.PaidAt = &at
		o.FailedAt = nil
		o.RejectionReason = nil
		if t.TransactionID != nil {
			o.TransactionID = t.TransactionID
		}
		if t.PaymentMethod != nil {
			o.PaymentMethod = t.PaymentMethod
		}
	case domain.OrderStatusFailed:
		o.FailedAt = &at
		o.RejectionReason = t.RejectionReason
		o.PaidAt = nil
	case domain.OrderStatusRefunded:
		o.RefundedAt = &at
		o.RefundedAmount = t.RefundedAmount
	}
	return clone(o), nil
}

func (s *memStore) RecordCallback(_ context.Context, id uuid.UUID, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.CallbackData = payload
	o.UpdatedAt = at
	return nil
}

func (s *memStore) ClaimEmail(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	o, ok := s.orders[id]
	if !ok || o.EmailSent || o.Status != domain.OrderStatusPaid {
		return false, nil
	}
	o.EmailSent = true
	o.EmailSentAt = &at
	return true, nil
}

func (s *memStore) List(_ context.Context, f domain.OrderFilter) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if f.Status == nil || o.Status == *f.Status {
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (s *memStore) ExpirePending(_ context.Context, now time.Time) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.orders {
		if o.Expired(now) {
			reason := domain.ReasonSessionExpired
			o.Status = domain.OrderStatusFailed
			o.FailedAt = &now
			o.RejectionReason = &reason
			out = append(out, clone(o))
		}
	}
	return out, nil
}

func (s *memStore) Cleanup(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.orders {
		if o.CreatedAt.Before(cutoff) && (o.Status == domain.OrderStatusFailed || o.Expired(now)) {
			delete(s.orders, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id uuid.UUID) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.orders[id])
}

func (s *memStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeProvider struct {
	mu           sync.Mutex
	createErr    error
	receipt      *bog.OrderDetails
	receiptErr   error
	createCalls  int
	receiptCalls int
	lastRequest  bog.OrderRequest
}

func (p *fakeProvider) CreateOrder(_ context.Context, req bog.OrderRequest) (*bog.CreatedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.lastRequest = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &bog.CreatedOrder{
		ProviderOrderID: "bog-" + req.IdempotencyKey,
		PaymentURL:      "https://pay.example/" + req.ExternalOrderID,
	}, nil
}

func (p *fakeProvider) Receipt(_ context.Context, _ string) (*bog.OrderDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiptCalls++
	if p.receiptErr != nil {
		return nil, p.receiptErr
	}
	return p.receipt, nil
}

func (p *fakeProvider) receiptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receiptCalls
}

type testRequest struct {
	Total     string
	Charge    string
	Customer  string
	Invalid   bool
	Artifacts int
}

type testDetails struct {
	ProductName string `json:"productName"`
}

type fakeAdapter struct {
	mu         sync.Mutex
	notified   []string
	notifyErr  error
	stall      bool
	rolledBack int
}

func (a *fakeAdapter) Kind() domain.OrderKind { return domain.KindTour }
func (a *fakeAdapter) Prefix() string         { return "TOUR_ORDER" }

func (a *fakeAdapter) Quote(_ context.Context, req testRequest) (*Quote[testDetails], error) {
	if req.Invalid {
		return nil, domain.NewValidationError("customerEmail", "is required")
	}
	total := decimal.RequireFromString(req.Total)
	charge := decimal.RequireFromString(req.Charge)
	remaining := total.Sub(charge)
	return &Quote[testDetails]{
		Total:     total,
		Charge:    charge,
		Remaining: &remaining,
		Customer:  Customer{Name: req.Customer, Email: "guest@example.com"},
		Items:     []bog.Item{{ProductID: "tour-1", Quantity: 1, UnitPrice: charge}},
		Details:   testDetails{ProductName: "Kazbegi"},
		Rollback: func(context.Context) error {
			a.mu.Lock()
			a.rolledBack++
			a.mu.Unlock()
			return nil
		},
	}, nil
}

func (a *fakeAdapter) Notify(ctx context.Context, o *domain.Order, d testDetails) error {
	a.mu.Lock()
	a.notified = append(a.notified, o.ExternalOrderID+":"+d.ProductName)
	stall, err := a.stall, a.notifyErr
	a.mu.Unlock()

	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (a *fakeAdapter) notifyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.notified)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type harness struct {
	engine    *Engine[testRequest, testDetails]
	store     *memStore
	provider  *fakeProvider
	adapter   *fakeAdapter
	publisher *recordingPublisher
	key       *rsa.PrivateKey
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemData, err := bog.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	v, err := bog.NewVerifier(pemData)
	require.NoError(t, err)

	h := &harness{
		store:     newMemStore(),
		provider:  &fakeProvider{},
		adapter:   &fakeAdapter{},
		publisher: &recordingPublisher{},
		key:       key,
		now:       time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = NewEngine[testRequest, testDetails](h.adapter, h.store, h.provider, v, h.publisher, Options{
		Currency:    "GEL",
		TTL:         30 * time.Minute,
		CallbackURL: "https://api.example/api/v1/tours/payments/bog/callback",
		Now:         func() time.Time { return h.now },
	})
	return h
}

func (h *harness) sign(t *testing.T, body []byte) string {
	t.Helper()
	sig, err := bog.Sign(h.key, body)
	require.NoError(t, err)
	return sig
}

func (h *harness) initiate(t *testing.T) *Initiated {
	t.Helper()
	out, err := h.engine.Initiate(context.Background(), testRequest{Total: "250", Charge: "100", Customer: "Ana"})
	require.NoError(t, err)
	return out
}

var errBoom = errors.New("boom")
