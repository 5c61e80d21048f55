package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/domain"
)

type receivedCallback struct {
	body      []byte
	signature string
}

type rig struct {
	srv         *httptest.Server
	client      *bog.Client
	verifier    *bog.Verifier
	merchantURL string
	received    chan receivedCallback
}

func startGateway(t *testing.T) *rig {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := bog.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)
	verifier, err := bog.NewVerifier(pub)
	require.NoError(t, err)

	g := newGateway("", "client", "secret", key, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(g.routes())
	t.Cleanup(srv.Close)
	g.publicURL = srv.URL

	received := make(chan receivedCallback, 4)
	merchant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- receivedCallback{body: body, signature: r.Header.Get("Callback-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(merchant.Close)

	client := bog.NewClient(bog.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/oauth2/token",
		APIURL:       srv.URL,
		Timeout:      5 * time.Second,
	}, nil)

	return &rig{srv: srv, client: client, verifier: verifier, merchantURL: merchant.URL, received: received}
}

func createTestOrder(t *testing.T, client *bog.Client, callbackURL string) *bog.CreatedOrder {
	t.Helper()
	created, err := client.CreateOrder(context.Background(), bog.OrderRequest{
		ExternalOrderID: "TOUR_ORDER_1",
		IdempotencyKey:  "idem-1",
		CallbackURL:     callbackURL,
		Currency:        "GEL",
		Total:           decimal.RequireFromString("250"),
		Items:           []bog.Item{{ProductID: "tour", Quantity: 1, UnitPrice: decimal.RequireFromString("250")}},
		TTL:             30 * time.Minute,
	})
	require.NoError(t, err)
	return created
}

func TestMockGatewayOrderLifecycle(t *testing.T) {
	r := startGateway(t)
	srv, client := r.srv, r.client

	created := createTestOrder(t, client, r.merchantURL+"/callback")
	assert.Equal(t, srv.URL+"/checkout/"+created.ProviderOrderID, created.PaymentURL)

	again := createTestOrder(t, client, r.merchantURL+"/callback")
	assert.Equal(t, created.ProviderOrderID, again.ProviderOrderID, "same idempotency key returns the same order")

	receipt, err := client.Receipt(context.Background(), created.ProviderOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, receipt.Status())

	resp, err := http.Post(srv.URL+"/simulate/"+created.ProviderOrderID+"?status=completed", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cb := <-r.received
	assert.True(t, r.verifier.Verify(cb.body, cb.signature))
	var payload bog.Callback
	require.NoError(t, json.Unmarshal(cb.body, &payload))
	assert.Equal(t, bog.EventOrderPayment, payload.Event)
	assert.Equal(t, "TOUR_ORDER_1", payload.Body.ExternalOrderID)
	assert.Equal(t, domain.OrderStatusPaid, payload.Body.Status())
	require.NotNil(t, payload.Body.PurchaseUnits.TransferAmount)
	assert.True(t, payload.Body.PurchaseUnits.TransferAmount.Equal(decimal.RequireFromString("250")))

	receipt, err = client.Receipt(context.Background(), created.ProviderOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, receipt.Status())
	assert.Equal(t, "card", receipt.PaymentMethod())
}

func TestMockGatewayRejectsBadCredentials(t *testing.T) {
	srv := startGateway(t).srv
	client := bog.NewClient(bog.Config{
		ClientID:     "client",
		ClientSecret: "wrong",
		AuthURL:      srv.URL + "/oauth2/token",
		APIURL:       srv.URL,
	}, nil)

	_, err := client.AccessToken(context.Background())
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestMockGatewayUnknownOrder(t *testing.T) {
	r := startGateway(t)

	_, err := r.client.Receipt(context.Background(), "missing")
	assert.ErrorIs(t, err, bog.ErrOrderNotFound)

	resp, err := http.Post(r.srv.URL+"/simulate/missing?status=completed", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMockGatewayRejectsUnknownOutcome(t *testing.T) {
	r := startGateway(t)
	created := createTestOrder(t, r.client, "http://127.0.0.1:1/callback")

	resp, err := http.Post(r.srv.URL+"/simulate/"+created.ProviderOrderID+"?status=teleported", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSigningKeyGeneratesWhenEmpty(t *testing.T) {
	key, err := signingKey("")
	require.NoError(t, err)
	assert.Equal(t, 2048, key.N.BitLen())

	_, err = signingKey("not a pem")
	assert.Error(t, err)
}
