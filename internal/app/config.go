package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (FRESH_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FRESH_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Hosted      HostedConfig
	NetsQR      NetsQRConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// HostedConfig configures the hosted-checkout (card redirect) provider.
type HostedConfig struct {
	BaseURL    string `usage:"Hosted checkout provider base URL" flag:"hosted-base-url"`
	SecretKey  string `usage:"Hosted checkout secret key (FRESH_HOSTED_SECRET_KEY)" flag:"hosted-secret-key"`
	SuccessURL string `default:"http://localhost:3000/checkout/success" usage:"Redirect after a completed hosted payment" flag:"hosted-success-url"`
	CancelURL  string `default:"http://localhost:3000/checkout/cancel" usage:"Redirect after an abandoned hosted payment" flag:"hosted-cancel-url"`
}

// NetsQRConfig configures the NETS QR sandbox client.
type NetsQRConfig struct {
	BaseURL   string `default:"https://sandbox.nets.openapipaas.com" usage:"NETS sandbox base URL" flag:"nets-base-url"`
	APIKey    string `usage:"NETS sandbox API key (FRESH_NETS_QR_API_KEY)" flag:"nets-api-key"`
	ProjectID string `usage:"NETS sandbox project id" flag:"nets-project-id"`
	TxnID     string `usage:"NETS merchant transaction id" flag:"nets-txn-id"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "FRESH",
		Files:     []string{"config.yaml", "/etc/freshmart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set FRESH_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's FRESH_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
