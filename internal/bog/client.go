package bog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/josh-kwaku/travel-booking-api/internal/domain"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

// ErrOrderNotFound is returned by Receipt when the gateway does not know the
// order yet. Callers treat it as "still processing", not as a failure.
var ErrOrderNotFound = errors.New("bog: order not found")

type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	APIURL       string
	Timeout      time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenCache
}

func NewClient(cfg Config, tokens *TokenCache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if tokens == nil {
		tokens = NewTokenCache(nil)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) configured() error {
	var missing []string
	if c.cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if c.cfg.AuthURL == "" {
		missing = append(missing, "auth url")
	}
	if c.cfg.APIURL == "" {
		missing = append(missing, "api url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: bog %s", domain.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// AccessToken returns a cached bearer token, fetching a new one when the
// cached token is within a minute of expiry.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if err := c.configured(); err != nil {
		return "", fmt.Errorf("AccessToken: %w", err)
	}
	token, err := c.tokens.Token(ctx, c.fetchToken)
	if err != nil {
		return "", fmt.Errorf("AccessToken: %w", err)
	}
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	log := logging.FromContext(ctx)

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("fetchToken: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetchToken: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	log.Info("provider token response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, fmt.Errorf("fetchToken: %w: unexpected status %d: %s", domain.ErrUpstream, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("fetchToken: %w: decode: %v", domain.ErrUpstream, err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("fetchToken: %w: response has no access_token", domain.ErrUpstream)
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// CreateOrder registers a payment order with the gateway and returns its id
// and the hosted payment page URL.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*CreatedOrder, error) {
	log := logging.FromContext(ctx)

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: %w", err)
	}

	payload := createOrderPayload{
		CallbackURL:     req.CallbackURL,
		ExternalOrderID: req.ExternalOrderID,
		PurchaseUnits: purchaseUnits{
			Currency:    req.Currency,
			TotalAmount: json.Number(req.Total.StringFixed(2)),
		},
		RedirectURLs: redirectURLs{Success: req.SuccessURL, Fail: req.FailURL},
		TTL:          int(req.TTL / time.Minute),
	}
	for _, it := range req.Items {
		payload.PurchaseUnits.Basket = append(payload.PurchaseUnits.Basket, basketItem{
			ProductID:   it.ProductID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   json.Number(it.UnitPrice.StringFixed(2)),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/ecommerce/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept-Language", "en")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	start := time.Now()
	log.Info("provider request sent", "provider", "bog", "external_order_id", req.ExternalOrderID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("CreateOrder: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	log.Info("provider response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CreateOrder: %w: unexpected status %d: %s", domain.ErrUpstream, resp.StatusCode, string(respBody))
	}

	var out createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("CreateOrder: %w: decode: %v", domain.ErrUpstream, err)
	}
	if out.ID == "" || out.Links.Redirect.Href == "" {
		return nil, fmt.Errorf("CreateOrder: %w: response missing id or redirect link", domain.ErrUpstream)
	}

	return &CreatedOrder{ProviderOrderID: out.ID, PaymentURL: out.Links.Redirect.Href}, nil
}

// Receipt fetches the gateway's current view of an order. A 404 yields
// ErrOrderNotFound.
func (c *Client) Receipt(ctx context.Context, providerOrderID string) (*OrderDetails, error) {
	log := logging.FromContext(ctx)

	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("Receipt: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/receipt/"+url.PathEscape(providerOrderID), nil)
	if err != nil {
		return nil, fmt.Errorf("Receipt: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Receipt: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	log.Info("provider receipt received",
		"provider_order_id", providerOrderID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrOrderNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		fallthrough
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Receipt: %w: unexpected status %d: %s", domain.ErrUpstream, resp.StatusCode, string(respBody))
	}

	var out OrderDetails
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("Receipt: %w: decode: %v", domain.ErrUpstream, err)
	}
	return &out, nil
}
