package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	BOG BOGConfig `envPrefix:"BOG_"`

	Currency      string        `env:"CURRENCY" envDefault:"GEL"`
	OrderTTL      time.Duration `env:"ORDER_TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"0s"`
	CleanupAfter  time.Duration `env:"CLEANUP_AFTER" envDefault:"72h"`
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"15s"`

	// Where the hosted payment page sends the customer afterwards.
	PaymentSuccessURL string `env:"PAYMENT_SUCCESS_URL"`
	PaymentFailURL    string `env:"PAYMENT_FAIL_URL"`

	AdminEmail        string `env:"ADMIN_EMAIL"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`

	SMTP  SMTPConfig  `envPrefix:"SMTP_"`
	Kafka KafkaConfig `envPrefix:"KAFKA_"`
	S3    S3Config    `envPrefix:"S3_"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// X-Forwarded-For is honoured only from these addresses or CIDRs.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

type BOGConfig struct {
	ClientID     string        `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string        `env:"CLIENT_SECRET,required,notEmpty"`
	AuthURL      string        `env:"AUTH_URL" envDefault:"https://oauth2.bog.ge/auth/realms/bog/protocol/openid-connect/token"`
	APIURL       string        `env:"API_URL" envDefault:"https://api.bog.ge/payments/v1"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	// PublicKeyPEM overrides the embedded callback verification key.
	PublicKeyPEM string `env:"PUBLIC_KEY_PEM"`
}

type SMTPConfig struct {
	Host     string        `env:"HOST"`
	Port     int           `env:"PORT" envDefault:"587"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	From     string        `env:"FROM" envDefault:"bookings@localhost"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

type KafkaConfig struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	Topic      string   `env:"TOPIC" envDefault:"payment.status_changed"`
	Partitions int      `env:"PARTITIONS" envDefault:"3"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type S3Config struct {
	Bucket   string `env:"BUCKET"`
	Region   string `env:"REGION" envDefault:"eu-central-1"`
	Endpoint string `env:"ENDPOINT"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.OrderTTL <= 0 {
		return nil, fmt.Errorf("config.Load: ORDER_TTL must be positive")
	}
	return &cfg, nil
}
