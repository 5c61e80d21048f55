package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/josh-kwaku/travel-booking-api/internal/bog"
	"github.com/josh-kwaku/travel-booking-api/internal/logging"
)

type mockConfig struct {
	Port          int    `env:"MOCK_PORT" envDefault:"8081"`
	PublicURL     string `env:"MOCK_PUBLIC_URL" envDefault:"http://localhost:8081"`
	ClientID      string `env:"BOG_CLIENT_ID"`
	ClientSecret  string `env:"BOG_CLIENT_SECRET"`
	PrivateKeyPEM string `env:"MOCK_PRIVATE_KEY_PEM"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
}

func main() {
	cfg, err := env.ParseAs[mockConfig]()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Init("mock-provider", cfg.LogLevel, cfg.AppEnv)

	key, err := signingKey(cfg.PrivateKeyPEM)
	if err != nil {
		slog.Error("failed to prepare signing key", "error", err)
		os.Exit(1)
	}
	pub, err := bog.EncodePublicKey(&key.PublicKey)
	if err != nil {
		slog.Error("failed to encode public key", "error", err)
		os.Exit(1)
	}
	slog.Info("callbacks are signed with this key; set BOG_PUBLIC_KEY_PEM on the api", "public_key", string(pub))

	g := newGateway(cfg.PublicURL, cfg.ClientID, cfg.ClientSecret, key, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("mock provider started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// signingKey parses a PEM private key, or generates a throwaway one.
func signingKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("signingKey: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signingKey: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signingKey: key is not RSA")
	}
	return key, nil
}
