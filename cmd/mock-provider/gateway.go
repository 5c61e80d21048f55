package main

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
)

const tokenTTL = time.Hour

type createOrderBody struct {
	CallbackURL     string `json:"callback_url"`
	ExternalOrderID string `json:"external_order_id"`
	PurchaseUnits   struct {
		Currency    string          `json:"currency"`
		TotalAmount decimal.Decimal `json:"total_amount"`
	} `json:"purchase_units"`
	RedirectURLs struct {
		Success string `json:"success"`
		Fail    string `json:"fail"`
	} `json:"redirect_urls"`
}

type mockOrder struct {
	details     bog.OrderDetails
	callbackURL string
	successURL  string
	failURL     string
}

// gateway imitates the hosted checkout API closely enough to run the booking
// flows end to end on a laptop.
type gateway struct {
	publicURL    string
	clientID     string
	clientSecret string
	key          *rsa.PrivateKey
	http         *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu          sync.Mutex
	tokens      map[string]time.Time
	orders      map[string]*mockOrder
	idempotency map[string]string
}

func newGateway(publicURL, clientID, clientSecret string, key *rsa.PrivateKey, logger *slog.Logger) *gateway {
	return &gateway{
		publicURL:    strings.TrimRight(publicURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		key:          key,
		http:         &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		now:          time.Now,
		tokens:       make(map[string]time.Time),
		orders:       make(map[string]*mockOrder),
		idempotency:  make(map[string]string),
	}
}

func (g *gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /public-key", g.publicKey)
	mux.HandleFunc("POST /oauth2/token", g.issueToken)
	mux.HandleFunc("POST /ecommerce/orders", g.authorized(g.createOrder))
	mux.HandleFunc("GET /receipt/{id}", g.authorized(g.receipt))
	mux.HandleFunc("GET /checkout/{id}", g.checkout)
	mux.HandleFunc("POST /simulate/{id}", g.simulate)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func (g *gateway) publicKey(w http.ResponseWriter, r *http.Request) {
	pemBytes, err := bog.EncodePublicKey(&g.key.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(pemBytes)
}

func (g *gateway) issueToken(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || !g.credentialsMatch(id, secret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	token := uuid.NewString()
	g.mu.Lock()
	g.tokens[token] = g.now().Add(tokenTTL)
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(tokenTTL / time.Second),
	})
}

// credentialsMatch accepts anything when no client credentials are configured.
func (g *gateway) credentialsMatch(id, secret string) bool {
	if g.clientID == "" && g.clientSecret == "" {
		return true
	}
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(g.clientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(g.clientSecret)) == 1
	return idOK && secretOK
}

func (g *gateway) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		g.mu.Lock()
		expires, known := g.tokens[token]
		g.mu.Unlock()
		if !found || !known || g.now().After(expires) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
			return
		}
		next(w, r)
	}
}

func (g *gateway) createOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed order"})
		return
	}
	if body.CallbackURL == "" || body.ExternalOrderID == "" || !body.PurchaseUnits.TotalAmount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "callback_url, external_order_id and a positive total_amount are required"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := r.Header.Get("Idempotency-Key")
	if id, ok := g.idempotency[key]; ok && key != "" {
		writeJSON(w, http.StatusOK, g.orderLinks(id))
		return
	}

	id := uuid.NewString()
	total := body.PurchaseUnits.TotalAmount
	g.orders[id] = &mockOrder{
		details: bog.OrderDetails{
			OrderID:         id,
			ExternalOrderID: body.ExternalOrderID,
			OrderStatus:     bog.StatusKey{Key: "created", Value: "Order created"},
			PurchaseUnits: bog.ReceiptUnits{
				CurrencyCode:  body.PurchaseUnits.Currency,
				RequestAmount: &total,
			},
		},
		callbackURL: body.CallbackURL,
		successURL:  body.RedirectURLs.Success,
		failURL:     body.RedirectURLs.Fail,
	}
	if key != "" {
		g.idempotency[key] = id
	}

	g.logger.Info("order created", "order_id", id, "external_order_id", body.ExternalOrderID, "amount", total.StringFixed(2))
	writeJSON(w, http.StatusOK, g.orderLinks(id))
}

func (g *gateway) orderLinks(id string) map[string]any {
	return map[string]any{
		"id": id,
		"_links": map[string]any{
			"details":  map[string]string{"href": g.publicURL + "/receipt/" + id},
			"redirect": map[string]string{"href": g.publicURL + "/checkout/" + id},
		},
	}
}

func (g *gateway) receipt(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	o, ok := g.orders[r.PathValue("id")]
	var details bog.OrderDetails
	if ok {
		details = o.details
	}
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, details)
}

var checkoutPage = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Mock checkout</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 40px auto;">
  <h2>Mock checkout</h2>
  <p>Order <code>{{.ExternalOrderID}}</code></p>
  <p>Amount: <strong>{{.Amount}} {{.Currency}}</strong></p>
  {{range .Outcomes}}
  <form method="post" action="/simulate/{{$.OrderID}}?status={{.}}&redirect=1" style="display:inline">
    <button type="submit">{{.}}</button>
  </form>
  {{end}}
</body>
</html>`))

func (g *gateway) checkout(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	o, ok := g.orders[r.PathValue("id")]
	var details bog.OrderDetails
	if ok {
		details = o.details
	}
	g.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	amount := ""
	if details.PurchaseUnits.RequestAmount != nil {
		amount = details.PurchaseUnits.RequestAmount.StringFixed(2)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := checkoutPage.Execute(w, map[string]any{
		"OrderID":         details.OrderID,
		"ExternalOrderID": details.ExternalOrderID,
		"Amount":          amount,
		"Currency":        details.PurchaseUnits.CurrencyCode,
		"Outcomes":        []string{"completed", "rejected"},
	})
	if err != nil {
		g.logger.Error("checkout page render failed", "error", err)
	}
}

// simulate moves an order to the requested status and delivers the signed
// callback the real gateway would send.
func (g *gateway) simulate(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !validOutcome(status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be one of completed, rejected, refunded, in_progress"})
		return
	}

	g.mu.Lock()
	o, ok := g.orders[r.PathValue("id")]
	if ok {
		applyOutcome(o, status)
	}
	var snapshot mockOrder
	if ok {
		snapshot = *o
	}
	g.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}

	code, err := g.deliver(r.Context(), &snapshot)
	if err != nil {
		g.logger.Error("callback delivery failed", "order_id", snapshot.details.OrderID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("redirect") != "" {
		target := snapshot.successURL
		if status != "completed" {
			target = snapshot.failURL
		}
		if target != "" {
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":        snapshot.details.OrderID,
		"status":          status,
		"callback_status": code,
	})
}

func validOutcome(s string) bool {
	switch s {
	case "completed", "rejected", "refunded", "in_progress":
		return true
	}
	return false
}

func applyOutcome(o *mockOrder, status string) {
	d := &o.details
	d.OrderStatus = bog.StatusKey{Key: status, Value: status}
	switch status {
	case "completed":
		d.PaymentDetail = bog.PaymentDetail{
			TransactionID:   uuid.NewString(),
			TransferMethod:  bog.StatusKey{Key: "card", Value: "Card"},
			Code:            "100",
			CodeDescription: "Successful payment",
		}
		amount := *d.PurchaseUnits.RequestAmount
		d.PurchaseUnits.TransferAmount = &amount
	case "rejected":
		d.RejectReason = "expiration"
		d.PaymentDetail.Code = "107"
		d.PaymentDetail.CodeDescription = "Card declined"
	case "refunded":
		amount := *d.PurchaseUnits.RequestAmount
		d.PurchaseUnits.RefundAmount = &amount
	}
}

func (g *gateway) deliver(ctx context.Context, o *mockOrder) (int, error) {
	body, err := json.Marshal(bog.Callback{
		Event:    bog.EventOrderPayment,
		ZoneTime: g.now().UTC().Format(time.RFC3339),
		Body:     o.details,
	})
	if err != nil {
		return 0, fmt.Errorf("deliver: marshal: %w", err)
	}
	sig, err := bog.Sign(g.key, body)
	if err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.callbackURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("deliver: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Callback-Signature", sig)

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}
	defer resp.Body.Close()

	g.logger.Info("callback delivered", "order_id", o.details.OrderID, "url", o.callbackURL, "status", resp.StatusCode)
	return resp.StatusCode, nil
}
