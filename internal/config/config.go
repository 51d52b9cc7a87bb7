package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSignKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// PublicBaseURL prefixes links sent to patients (consent approval).
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// Messaging gateway
	GatewayURL     string        `mapstructure:"GATEWAY_URL"`
	GatewayToken   string        `mapstructure:"GATEWAY_TOKEN"`
	GatewayTimeout time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	WebhookSecret  string        `mapstructure:"WEBHOOK_SECRET"`

	// Retrieval / ingestion backend
	RetrievalURL       string        `mapstructure:"RETRIEVAL_URL"`
	RetrievalAPIKey    string        `mapstructure:"RETRIEVAL_API_KEY"`
	RetrievalTimeout   time.Duration `mapstructure:"RETRIEVAL_TIMEOUT"`
	RetrievalNamespace string        `mapstructure:"RETRIEVAL_NAMESPACE"`
	RetrievalTopK      int           `mapstructure:"RETRIEVAL_TOP_K"`

	// Hosted conversational agent; when set it takes precedence over RAG.
	AgentURL   string `mapstructure:"AGENT_URL"`
	AgentToken string `mapstructure:"AGENT_TOKEN"`

	// Generative backend used to compose answers from passages.
	LLMProvider     string        `mapstructure:"LLM_PROVIDER"`
	OpenAIAPIKey    string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel     string        `mapstructure:"OPENAI_MODEL"`
	AnthropicAPIKey string        `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `mapstructure:"ANTHROPIC_MODEL"`
	LLMTimeout      time.Duration `mapstructure:"LLM_TIMEOUT"`

	BroadcastConcurrency int           `mapstructure:"BROADCAST_CONCURRENCY"`
	UrgentKeywords       []string      `mapstructure:"URGENT_KEYWORDS"`
	DedupeTTL            time.Duration `mapstructure:"DEDUPE_TTL"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"PUBLIC_BASE_URL",
	"GATEWAY_URL", "GATEWAY_TOKEN", "GATEWAY_TIMEOUT", "WEBHOOK_SECRET",
	"RETRIEVAL_URL", "RETRIEVAL_API_KEY", "RETRIEVAL_TIMEOUT", "RETRIEVAL_NAMESPACE", "RETRIEVAL_TOP_K",
	"AGENT_URL", "AGENT_TOKEN",
	"LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "LLM_TIMEOUT",
	"BROADCAST_CONCURRENCY", "URGENT_KEYWORDS", "DEDUPE_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("RETRIEVAL_TIMEOUT", "20s")
	v.SetDefault("RETRIEVAL_TOP_K", 5)
	v.SetDefault("LLM_TIMEOUT", "45s")
	v.SetDefault("BROADCAST_CONCURRENCY", 8)
	v.SetDefault("URGENT_KEYWORDS", "bleeding,unconscious,chest pain,seizure,can't breathe,emergency")
	v.SetDefault("DEDUPE_TTL", "24h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.UrgentKeywords = splitList(v.GetString("URGENT_KEYWORDS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token are treated as admin.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured, the gateway must be reachable, and the
// selected generative provider must have credentials.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSignKey == "" {
		return fmt.Errorf("one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required in production")
	}
	if c.IsProduction() && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in production")
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		return fmt.Errorf("PUBLIC_BASE_URL is not a valid URL: %w", err)
	}

	switch c.LLMProvider {
	case "":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER is \"openai\"")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER is \"anthropic\"")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be \"\", \"openai\" or \"anthropic\", got %q", c.LLMProvider)
	}

	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK)
	}
	if c.BroadcastConcurrency <= 0 {
		return fmt.Errorf("BROADCAST_CONCURRENCY must be positive, got %d", c.BroadcastConcurrency)
	}
	return nil
}
