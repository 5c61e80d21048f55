package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "booking-api", "info", "production")

	logger.Info("token issued", "access_token", "abc", "order_id", "TOUR_ORDER_1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "booking-api", rec["service"])
	assert.Equal(t, "[REDACTED]", rec["access_token"])
	assert.Equal(t, "TOUR_ORDER_1", rec["order_id"])
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "svc", "warn", "development")

	logger.Info("quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestContextLogger(t *testing.T) {
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
