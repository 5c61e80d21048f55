package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/travel-booking-api/internal/auth"
	"github.com/josh-kwaku/travel-booking-api/internal/booking"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

const defaultCleanupHours = 72

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// OrderAdmin is the per-kind order management surface.
type OrderAdmin interface {
	Kind() domain.OrderKind
	List(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

type paymentLinkWriter interface {
	CreatePaymentLink(ctx context.Context, l *domain.PaymentLink) error
}

type AdminConfig struct {
	Email        string
	PasswordHash string
	JWTSecret    string
	JWTExpiry    time.Duration
}

type AdminHandler struct {
	orders map[domain.OrderKind]OrderAdmin
	links  paymentLinkWriter
	cfg    AdminConfig
}

func NewAdminHandler(orders []OrderAdmin, links paymentLinkWriter, cfg AdminConfig) *AdminHandler {
	byKind := make(map[domain.OrderKind]OrderAdmin, len(orders))
	for _, o := range orders {
		byKind[o.Kind()] = o
	}
	if cfg.JWTExpiry <= 0 {
		cfg.JWTExpiry = 12 * time.Hour
	}
	return &AdminHandler{orders: byKind, links: links, cfg: cfg}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Email == "" || h.cfg.PasswordHash == "" {
		RespondAppError(w, ErrAdminDisabled, nil)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if err := booking.Validate(req); err != nil {
		RespondDomainError(w, err)
		return
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(req.Email)), []byte(strings.ToLower(h.cfg.Email))) == 1
	pwErr := bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password))
	if !emailOK || pwErr != nil {
		logging.FromContext(r.Context()).Warn("admin login rejected")
		RespondAppError(w, ErrInvalidCredentials, nil)
		return
	}

	token, err := auth.GenerateToken(h.cfg.Email, auth.RoleAdmin, h.cfg.JWTSecret, h.cfg.JWTExpiry)
	if err != nil {
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondSuccess(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(h.cfg.JWTExpiry),
	})
}

type orderDTO struct {
	ID              uuid.UUID        `json:"id"`
	Kind            string           `json:"kind"`
	ExternalOrderID string           `json:"externalOrderId"`
	ProviderOrderID *string          `json:"providerOrderId"`
	Status          string           `json:"status"`
	Currency        string           `json:"currency"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	PaidAmount      decimal.Decimal  `json:"paidAmount"`
	RemainingAmount *decimal.Decimal `json:"remainingAmount,omitempty"`
	RefundedAmount  *decimal.Decimal `json:"refundedAmount,omitempty"`
	CustomerName    string           `json:"customerName"`
	CustomerEmail   string           `json:"customerEmail"`
	CustomerPhone   string           `json:"customerPhone,omitempty"`
	TransactionID   *string          `json:"transactionId,omitempty"`
	PaymentMethod   *string          `json:"paymentMethod,omitempty"`
	RejectionReason *string          `json:"rejectionReason,omitempty"`
	Details         json.RawMessage  `json:"details,omitempty"`
	EmailSent       bool             `json:"emailSent"`
	CreatedAt       time.Time        `json:"createdAt"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	FailedAt        *time.Time       `json:"failedAt,omitempty"`
	RefundedAt      *time.Time       `json:"refundedAt,omitempty"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	return orderDTO{
		ID:              o.ID,
		Kind:            string(o.Kind),
		ExternalOrderID: o.ExternalOrderID,
		ProviderOrderID: o.ProviderOrderID,
		Status:          string(o.Status),
		Currency:        o.Currency,
		TotalAmount:     o.TotalAmount,
		PaidAmount:      o.PaidAmount,
		RemainingAmount: o.RemainingAmount,
		RefundedAmount:  o.RefundedAmount,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		CustomerPhone:   o.CustomerPhone,
		TransactionID:   o.TransactionID,
		PaymentMethod:   o.PaymentMethod,
		RejectionReason: o.RejectionReason,
		Details:         o.Details,
		EmailSent:       o.EmailSent,
		CreatedAt:       o.CreatedAt,
		ExpiresAt:       o.ExpiresAt,
		PaidAt:          o.PaidAt,
		FailedAt:        o.FailedAt,
		RefundedAt:      o.RefundedAt,
	}
}

func (h *AdminHandler) engineFor(w http.ResponseWriter, r *http.Request) (OrderAdmin, bool) {
	kind, ok := domain.ParseOrderKind(r.PathValue("kind"))
	eng, found := h.orders[kind]
	if !ok || !found {
		RespondAppError(w, ErrResourceNotFound, nil)
		return nil, false
	}
	return eng, true
}

func (h *AdminHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engineFor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var filter domain.OrderFilter
	var fields []FieldError

	if s := q.Get("status"); s != "" {
		st := domain.OrderStatus(strings.ToUpper(s))
		if !st.Valid() {
			fields = append(fields, FieldError{Field: "status", Message: "must be one of PENDING, PAID, FAILED, REFUNDED"})
		}
		filter.Status = &st
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			fields = append(fields, FieldError{Field: "limit", Message: "must be a positive integer"})
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			fields = append(fields, FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		filter.Offset = n
	}
	if len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	orders, err := eng.List(r.Context(), filter)
	if err != nil {
		logging.FromContext(r.Context()).Error("listing orders failed", "kind", eng.Kind(), "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type cleanupRequest struct {
	OlderThanHours int `json:"olderThanHours" validate:"gte=0,lte=8760"`
}

type cleanupResponse struct {
	Deleted        int64 `json:"deleted"`
	OlderThanHours int   `json:"olderThanHours"`
}

func (h *AdminHandler) CleanupOrders(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engineFor(w, r)
	if !ok {
		return
	}

	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondAppError(w, ErrInvalidRequest, nil)
			return
		}
	}
	if err := booking.Validate(req); err != nil {
		RespondDomainError(w, err)
		return
	}
	if req.OlderThanHours == 0 {
		req.OlderThanHours = defaultCleanupHours
	}

	n, err := eng.Cleanup(r.Context(), time.Duration(req.OlderThanHours)*time.Hour)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		logging.FromContext(r.Context()).Info("admin cleanup", "kind", eng.Kind(), "admin", claims.Email, "deleted", n)
	}
	RespondSuccess(w, http.StatusOK, cleanupResponse{Deleted: n, OlderThanHours: req.OlderThanHours})
}

type createPaymentLinkRequest struct {
	Slug        string          `json:"slug" validate:"required,max=120"`
	ProductName string          `json:"productName" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	MaxQuantity *int            `json:"maxQuantity" validate:"omitempty,gte=1"`
	ExpiresAt   *time.Time      `json:"expiresAt"`
}

// defaultMaxQuantity applies when a link is created without maxQuantity.
const defaultMaxQuantity = 1

type paymentLinkDTO struct {
	ID          uuid.UUID       `json:"id"`
	Slug        string          `json:"slug"`
	ProductName string          `json:"productName"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	MaxQuantity int             `json:"maxQuantity"`
	IsActive    bool            `json:"isActive"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitzero"`
}

func (h *AdminHandler) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req createPaymentLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if err := booking.Validate(req); err != nil {
		RespondDomainError(w, err)
		return
	}
	req.Slug = strings.ToLower(req.Slug)
	if !slugPattern.MatchString(req.Slug) {
		RespondValidationError(w, []FieldError{{Field: "slug", Message: "must contain only lowercase letters, digits and single hyphens"}})
		return
	}
	if !req.UnitPrice.IsPositive() {
		RespondValidationError(w, []FieldError{{Field: "unitPrice", Message: "must be greater than zero"}})
		return
	}

	maxQty := defaultMaxQuantity
	if req.MaxQuantity != nil {
		maxQty = *req.MaxQuantity
	}

	now := time.Now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		RespondValidationError(w, []FieldError{{Field: "expiresAt", Message: "must be in the future"}})
		return
	}

	link := &domain.PaymentLink{
		ID:          uuid.New(),
		Slug:        req.Slug,
		ProductName: req.ProductName,
		Description: req.Description,
		UnitPrice:   req.UnitPrice.Round(2),
		MaxQuantity: maxQty,
		IsActive:    true,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
	}
	if err := h.links.CreatePaymentLink(r.Context(), link); err != nil {
		logging.FromContext(r.Context()).Warn("payment link creation failed", "slug", link.Slug, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/quick-payments/links/"+link.Slug)
	RespondSuccess(w, http.StatusCreated, paymentLinkDTO{
		ID:          link.ID,
		Slug:        link.Slug,
		ProductName: link.ProductName,
		Description: link.Description,
		UnitPrice:   link.UnitPrice,
		MaxQuantity: link.MaxQuantity,
		IsActive:    link.IsActive,
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
	})
}
