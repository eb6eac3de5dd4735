package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/aws"
	"github.com/xenking/storefront-checkout/internal/reconcile"
	"github.com/xenking/storefront-checkout/internal/storeapi"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

const defaultAddr = "0.0.0.0:8080"

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerDynamoDB = "dynamodb"
	LedgerMemory   = "memory"
)

// Config holds the complete server configuration, loadable from environment
// variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxConns    int32  `default:"10" usage:"Maximum PostgreSQL connections"`
	OwnerPepper string `usage:"HMAC pepper binding sessions to bearer tokens" flag:"owner-pepper"`
	StoreAPI    storeapi.Config
	Gateway     GatewayConfig
	Pricing     PricingConfig
	Session     SessionConfig
	Idempotency IdempotencyConfig
	Events      EventsConfig
	AWS         aws.Config
	Reconcile   reconcile.Config
	RateLimit   httpmiddleware.RateLimitConfig
	CORS        httpmiddleware.CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig is the merchant profile shown in the payment widget.
type GatewayConfig struct {
	Key         string `usage:"Public gateway key ID"`
	Name        string `default:"Storefront" usage:"Merchant name shown in the widget"`
	Description string `default:"Order payment" usage:"Payment description"`
	ThemeColor  string `default:"#3399cc" usage:"Widget theme color"`

	// Sizing of the replay filter of verified payment IDs.
	ReplayCapacity uint          `default:"1000000" usage:"Expected verified payments held in the replay filter"`
	ReplayFPRate   float64       `default:"0.001" usage:"Replay filter false positive rate"`
	ReplayWarm     time.Duration `default:"720h" usage:"How far back to warm the replay filter"`
}

// PricingConfig sets tax and shipping.
type PricingConfig struct {
	TaxRate     string `default:"0.18" usage:"Tax rate applied to the discounted subtotal"`
	ShippingFee string `default:"0" usage:"Flat shipping fee"`
}

// SessionConfig controls in-memory checkout sessions.
type SessionConfig struct {
	TTL           time.Duration `default:"30m" usage:"Idle time after which a session expires"`
	SweepInterval time.Duration `default:"1m" usage:"How often expired sessions are dropped"`
}

// IdempotencyConfig selects where submission outcomes are stored.
type IdempotencyConfig struct {
	Backend string        `default:"postgres" usage:"Ledger backend: postgres, dynamodb or memory"`
	Table   string        `default:"checkout-idempotency" usage:"DynamoDB table name"`
	TTL     time.Duration `default:"24h" usage:"How long stored responses are replayed"`
}

// EventsConfig controls checkout event delivery.
type EventsConfig struct {
	QueueURL string `usage:"SQS queue URL; events are only logged when empty" flag:"events-queue-url"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OwnerPepper == "" {
		return errors.New("owner pepper is required: set CHECKOUT_OWNER_PEPPER")
	}
	if c.Gateway.Key == "" {
		return errors.New("gateway key is required: set CHECKOUT_GATEWAY_KEY")
	}
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	switch c.Idempotency.Backend {
	case LedgerPostgres, LedgerDynamoDB, LedgerMemory:
	default:
		return errors.Errorf("unknown idempotency backend %q", c.Idempotency.Backend)
	}
	return nil
}

// applyPlatformDefaults maps the standard DATABASE_URL and PORT variables
// set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
