package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
	"github.com/josh-kwaku/travel-booking-api/internal/reconcile"
)

const (
	signatureHeader = "Callback-Signature"
	maxCallbackBody = 1 << 20
)

// MaxInitiateBody caps a payment initiation request. Insurance requests carry
// base64 documents.
const MaxInitiateBody = 40 << 20

type paymentEngine[Req any] interface {
	Kind() domain.OrderKind
	Initiate(ctx context.Context, req Req) (*reconcile.Initiated, error)
	HandleCallback(ctx context.Context, raw []byte, signature string) (*reconcile.CallbackResult, error)
	ResolveStatus(ctx context.Context, ref string) (*reconcile.StatusView, error)
}

// PaymentHandler serves the initiate, callback and status endpoints of one
// booking kind.
type PaymentHandler[Req any] struct {
	engine paymentEngine[Req]
}

func NewPaymentHandler[Req any](engine paymentEngine[Req]) *PaymentHandler[Req] {
	return &PaymentHandler[Req]{engine: engine}
}

type initiateResponse struct {
	OrderID          uuid.UUID        `json:"orderId"`
	ExternalOrderID  string           `json:"externalOrderId"`
	PaymentURL       string           `json:"paymentUrl"`
	Amount           decimal.Decimal  `json:"amount"`
	TotalAmount      decimal.Decimal  `json:"totalAmount"`
	RemainingAmount  *decimal.Decimal `json:"remainingAmount,omitempty"`
	Currency         string           `json:"currency"`
	ExpiresAt        time.Time        `json:"expiresAt"`
	ExpiresInMinutes int              `json:"expiresInMinutes"`
}

func (h *PaymentHandler[Req]) Initiate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req Req
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxInitiateBody))
	if err := dec.Decode(&req); err != nil {
		log.Warn("initiate payment: bad request body", "kind", h.engine.Kind(), "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondAppError(w, ErrPayloadTooLarge, nil)
			return
		}
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	out, err := h.engine.Initiate(r.Context(), req)
	if err != nil {
		log.Warn("initiate payment failed", "kind", h.engine.Kind(), "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, initiateResponse{
		OrderID:          out.OrderID,
		ExternalOrderID:  out.ExternalOrderID,
		PaymentURL:       out.PaymentURL,
		Amount:           out.Amount,
		TotalAmount:      out.Total,
		RemainingAmount:  out.Remaining,
		Currency:         out.Currency,
		ExpiresAt:        out.ExpiresAt,
		ExpiresInMinutes: out.ExpiresInMinutes,
	})
}

type callbackResponse struct {
	Status          string `json:"status"`
	ExternalOrderID string `json:"externalOrderId"`
	Changed         bool   `json:"changed"`
}

// Callback receives the gateway's signed order_payment notification. The body
// is read untouched so the signature covers exactly the bytes sent.
func (h *PaymentHandler[Req]) Callback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		log.Error("failed to read callback body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	res, err := h.engine.HandleCallback(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			RespondAppError(w, ErrInvalidSignature, nil)
			return
		}
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, callbackResponse{
		Status:          string(res.Status),
		ExternalOrderID: res.ExternalOrderID,
		Changed:         res.Changed,
	})
}

type statusResponse struct {
	OrderID         uuid.UUID        `json:"orderId"`
	ExternalOrderID string           `json:"externalOrderId"`
	ProviderOrderID string           `json:"providerOrderId,omitempty"`
	Status          string           `json:"status"`
	Success         *bool            `json:"success"`
	Verified        bool             `json:"verified"`
	Description     string           `json:"description"`
	Currency        string           `json:"currency"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	PaidAmount      decimal.Decimal  `json:"paidAmount"`
	RemainingAmount *decimal.Decimal `json:"remainingAmount,omitempty"`
	RefundedAmount  *decimal.Decimal `json:"refundedAmount,omitempty"`
	RejectionReason *string          `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	ExpiresAt       time.Time        `json:"expiresAt"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
	FailedAt        *time.Time       `json:"failedAt,omitempty"`
	RefundedAt      *time.Time       `json:"refundedAt,omitempty"`
}

func toStatusResponse(v *reconcile.StatusView) statusResponse {
	return statusResponse{
		OrderID:         v.OrderID,
		ExternalOrderID: v.ExternalOrderID,
		ProviderOrderID: v.ProviderOrderID,
		Status:          string(v.Status),
		Success:         v.Success,
		Verified:        v.Verified,
		Description:     v.Description,
		Currency:        v.Currency,
		TotalAmount:     v.TotalAmount,
		PaidAmount:      v.PaidAmount,
		RemainingAmount: v.RemainingAmount,
		RefundedAmount:  v.RefundedAmount,
		RejectionReason: v.RejectionReason,
		CreatedAt:       v.CreatedAt,
		ExpiresAt:       v.ExpiresAt,
		PaidAt:          v.PaidAt,
		FailedAt:        v.FailedAt,
		RefundedAt:      v.RefundedAt,
	}
}

func (h *PaymentHandler[Req]) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.ResolveStatus(r.Context(), r.PathValue("ref"))
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment status lookup failed", "kind", h.engine.Kind(), "error", err)
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toStatusResponse(view))
}
