package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

type paymentLinkReader interface {
	GetPaymentLinkBySlug(ctx context.Context, slug string) (*domain.PaymentLink, error)
}

type CatalogHandler struct {
	links paymentLinkReader
	now   func() time.Time
}

func NewCatalogHandler(links paymentLinkReader) *CatalogHandler {
	return &CatalogHandler{links: links, now: time.Now}
}

// GetPaymentLink returns the public view of a quick-payment link. Links that
// are disabled or expired read as not found.
func (h *CatalogHandler) GetPaymentLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.GetPaymentLinkBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	if !link.Available(h.now()) {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, paymentLinkDTO{
		ID:          link.ID,
		Slug:        link.Slug,
		ProductName: link.ProductName,
		Description: link.Description,
		UnitPrice:   link.UnitPrice,
		MaxQuantity: link.MaxQuantity,
		IsActive:    link.IsActive,
		ExpiresAt:   link.ExpiresAt,
	})
}
