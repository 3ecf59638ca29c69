package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// GatewayConfig describes one checkout gateway variant. A combined gateway
// leaves PaymentMethods empty; separate per-method gateways restrict the
// invoice to their own set. TokenType "promotion" charges line-item quantity
// against PrimaryPaymentMethod instead of the order total.
type GatewayConfig struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	PaymentMethods       []string `json:"paymentMethods"`
	TokenType            string   `json:"tokenType"`
	PrimaryPaymentMethod string   `json:"primaryPaymentMethod"`
}

// Config holds the immutable application configuration snapshot loaded at
// startup. Orchestrators receive it explicitly instead of reading settings
// ad hoc.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	PublicBaseURL      string
	CORSAllowedOrigins []string

	CoinsnapBaseURL string
	CoinsnapStoreID string
	CoinsnapAPIKey  string
	WebhookSecret   string
	ReferralCode    string

	SendCustomerData bool
	SeparateGateways bool

	Gateways    []GatewayConfig
	OrderStates map[string]string

	APICallTimeout   time.Duration
	InvoiceLockTTL   time.Duration
	WebhookReplayTTL time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		PublicBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CoinsnapBaseURL:    strings.TrimSpace(k.String("COINSNAP_BASE_URL")),
		CoinsnapStoreID:    strings.TrimSpace(k.String("COINSNAP_STORE_ID")),
		CoinsnapAPIKey:     strings.TrimSpace(k.String("COINSNAP_API_KEY")),
		WebhookSecret:      k.String("COINSNAP_WEBHOOK_SECRET"),
		ReferralCode:       strings.TrimSpace(k.String("COINSNAP_REFERRAL_CODE")),
		SendCustomerData:   parseBool(k.String("COINSNAP_SEND_CUSTOMER_DATA")),
		SeparateGateways:   parseBool(k.String("COINSNAP_SEPARATE_GATEWAYS")),
		APICallTimeout:     parseDuration(k.String("COINSNAP_API_TIMEOUT"), "30s"),
		InvoiceLockTTL:     parseDuration(k.String("INVOICE_LOCK_TTL"), "30s"),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
	}

	gateways, err := parseGateways(k.String("COINSNAP_GATEWAYS"))
	if err != nil {
		return nil, err
	}
	cfg.Gateways = gateways

	states, err := parseOrderStates(k.String("COINSNAP_ORDER_STATES"))
	if err != nil {
		return nil, err
	}
	cfg.OrderStates = states

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// Configured reports whether the Coinsnap API connection is usable. Checkout
// and refunds refuse to run against an unconfigured connection instead of
// silently doing nothing.
func (c *Config) Configured() bool {
	return c.CoinsnapStoreID != "" && c.CoinsnapAPIKey != ""
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseGateways(raw string) ([]GatewayConfig, error) {
	if strings.TrimSpace(raw) == "" {
		// single combined gateway accepting every store payment method
		return []GatewayConfig{{
			ID:        "coinsnap",
			Title:     "Bitcoin, Lightning Network",
			TokenType: "payment",
		}}, nil
	}
	var gateways []GatewayConfig
	if err := json.Unmarshal([]byte(raw), &gateways); err != nil {
		return nil, fmt.Errorf("parse COINSNAP_GATEWAYS: %w", err)
	}
	for i, gw := range gateways {
		if strings.TrimSpace(gw.ID) == "" {
			return nil, fmt.Errorf("parse COINSNAP_GATEWAYS: gateway %d has no id", i)
		}
	}
	return gateways, nil
}

func parseOrderStates(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var states map[string]string
	if err := json.Unmarshal([]byte(raw), &states); err != nil {
		return nil, fmt.Errorf("parse COINSNAP_ORDER_STATES: %w", err)
	}
	return states, nil
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
