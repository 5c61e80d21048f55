package bog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

// EventOrderPayment is the only callback event the gateway sends for orders.
const EventOrderPayment = "order_payment"

type Item struct {
	ProductID   string
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type OrderRequest struct {
	ExternalOrderID string
	IdempotencyKey  string
	CallbackURL     string
	SuccessURL      string
	FailURL         string
	Currency        string
	Total           decimal.Decimal
	Items           []Item
	TTL             time.Duration
}

type CreatedOrder struct {
	ProviderOrderID string
	PaymentURL      string
}

type createOrderPayload struct {
	CallbackURL     string        `json:"callback_url"`
	ExternalOrderID string        `json:"external_order_id"`
	PurchaseUnits   purchaseUnits `json:"purchase_units"`
	RedirectURLs    redirectURLs  `json:"redirect_urls"`
	TTL             int           `json:"ttl,omitempty"`
}

type purchaseUnits struct {
	Currency    string       `json:"currency"`
	TotalAmount json.Number  `json:"total_amount"`
	Basket      []basketItem `json:"basket"`
}

type basketItem struct {
	ProductID   string      `json:"product_id"`
	Description string      `json:"description,omitempty"`
	Quantity    int         `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
}

type redirectURLs struct {
	Success string `json:"success"`
	Fail    string `json:"fail"`
}

type createOrderResponse struct {
	ID    string `json:"id"`
	Links struct {
		Details  link `json:"details"`
		Redirect link `json:"redirect"`
	} `json:"_links"`
}

type link struct {
	Href string `json:"href"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OrderDetails is the gateway's view of an order. Receipts and callback
// bodies share this shape.
type OrderDetails struct {
	OrderID         string        `json:"order_id"`
	ExternalOrderID string        `json:"external_order_id"`
	OrderStatus     StatusKey     `json:"order_status"`
	RejectReason    string        `json:"reject_reason"`
	PaymentDetail   PaymentDetail `json:"payment_detail"`
	PurchaseUnits   ReceiptUnits  `json:"purchase_units"`
}

type StatusKey struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PaymentDetail struct {
	TransactionID   string    `json:"transaction_id"`
	TransferMethod  StatusKey `json:"transfer_method"`
	CodeDescription string    `json:"code_description"`
	Code            string    `json:"code"`
}

type ReceiptUnits struct {
	CurrencyCode   string           `json:"currency_code"`
	RequestAmount  *decimal.Decimal `json:"request_amount"`
	TransferAmount *decimal.Decimal `json:"transfer_amount"`
	RefundAmount   *decimal.Decimal `json:"refund_amount"`
}

type Callback struct {
	Event    string       `json:"event"`
	ZoneTime string       `json:"zoned_request_time"`
	Body     OrderDetails `json:"body"`
}

// Status maps the gateway status key onto the local order status.
func (d *OrderDetails) Status() domain.OrderStatus {
	return MapStatus(d.OrderStatus.Key)
}

func MapStatus(key string) domain.OrderStatus {
	switch key {
	case "completed", "partial_completed":
		return domain.OrderStatusPaid
	case "rejected", "failed":
		return domain.OrderStatusFailed
	case "refunded", "refunded_partially":
		return domain.OrderStatusRefunded
	default:
		return domain.OrderStatusPending
	}
}

// FailureReason picks the most specific rejection text the gateway supplied.
func (d *OrderDetails) FailureReason() string {
	if d.RejectReason != "" {
		return d.RejectReason
	}
	if d.PaymentDetail.CodeDescription != "" {
		return d.PaymentDetail.CodeDescription
	}
	return domain.ReasonPaymentFailed
}

func (d *OrderDetails) PaymentMethod() string {
	return d.PaymentDetail.TransferMethod.Key
}
