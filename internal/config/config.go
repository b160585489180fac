// Package config loads gateway configuration from environment variables and
// the provider descriptor file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the runtime environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// Config holds all service configuration
type Config struct {
	Environment Environment
	Server      ServerConfig
	Facilitator FacilitatorConfig
	Signer      SignerConfig
	Oracle      OracleConfig
	Registry    RegistryConfig
	RateLimit   RateLimitConfig
	Providers   []ProviderConfig

	// WalletAddress is the gateway's receiving address (payTo in challenges).
	WalletAddress string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PublicURL is the externally visible base URL used in challenge
	// resource fields. Falls back to the request host when empty.
	PublicURL string
}

// FacilitatorConfig holds facilitator selection configuration
type FacilitatorConfig struct {
	// Type selects the primary adapter: self-hosted, codenut, corbits, payai, auto.
	Type           string
	EnableFallback bool
	FallbackType   string

	CodeNutURL string
	CorbitsURL string
	PayAIURL   string
}

// SignerConfig holds the self-hosted facilitator's keys and RPC endpoints
type SignerConfig struct {
	SolanaPrivateKey string
	EVMPrivateKey    string
	SolanaRPCURL     string
	EVMRPCURL        string
}

// OracleConfig holds price oracle configuration
type OracleConfig struct {
	URL             string
	RefreshInterval time.Duration
}

// RegistryConfig holds provider health check configuration
type RegistryConfig struct {
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration
	ProvidersFile       string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool
	WindowSeconds int
	MaxRequests   int
}

// BatchCostConfig describes a provider's pre-paid bundle offer
type BatchCostConfig struct {
	Calls int     `yaml:"calls" json:"calls"`
	Price float64 `yaml:"price" json:"price"`
}

// ProviderConfig is one upstream RPC provider descriptor
type ProviderConfig struct {
	ID             string           `yaml:"id"`
	Name           string           `yaml:"name"`
	Chains         []string         `yaml:"chains"`
	URL            string           `yaml:"url"`
	HealthCheckURL string           `yaml:"healthCheckUrl"`
	CostPerCall    float64          `yaml:"costPerCall"`
	BatchCost      *BatchCostConfig `yaml:"batchCost"`
	Priority       int              `yaml:"priority"`
	MaxLatencyMs   int64            `yaml:"maxLatencyMs"`
	RateLimitRPS   int              `yaml:"rateLimitRps"`
}

// Load loads configuration from environment variables
func Load() *Config {
	// Default to production for security - explicit opt-in to development mode
	env := Environment(getEnv("ENV", "production"))
	if env != EnvDevelopment && env != EnvProduction && env != EnvTest {
		env = EnvProduction
	}

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			PublicURL:    getEnv("PUBLIC_URL", ""),
		},
		Facilitator: FacilitatorConfig{
			Type:           getEnv("FACILITATOR_TYPE", "auto"),
			EnableFallback: getBool("FACILITATOR_ENABLE_FALLBACK", true),
			FallbackType:   getEnv("FACILITATOR_FALLBACK_TYPE", ""),
			CodeNutURL:     getEnv("CODENUT_FACILITATOR_URL", "https://facilitator.codenut.dev"),
			CorbitsURL:     getEnv("CORBITS_FACILITATOR_URL", "https://api.corbits.dev/x402"),
			PayAIURL:       getEnv("PAYAI_FACILITATOR_URL", "https://facilitator.payai.network"),
		},
		Signer: SignerConfig{
			SolanaPrivateKey: getEnv("SOLANA_PRIVATE_KEY", ""),
			EVMPrivateKey:    getEnv("EVM_PRIVATE_KEY", ""),
			SolanaRPCURL:     getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			EVMRPCURL:        getEnv("EVM_RPC_URL", "https://mainnet.base.org"),
		},
		Oracle: OracleConfig{
			URL:             getEnv("PRICE_ORACLE_URL", "https://api.coingecko.com/api/v3/simple/price"),
			RefreshInterval: getDuration("PRICE_ORACLE_REFRESH", 30*time.Second),
		},
		Registry: RegistryConfig{
			HealthCheckInterval: getDuration("HEALTH_CHECK_INTERVAL", 60*time.Second),
			ProbeTimeout:        getDuration("HEALTH_PROBE_TIMEOUT", 5*time.Second),
			ProvidersFile:       getEnv("PROVIDERS_CONFIG", "providers.yaml"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true),
			WindowSeconds: getInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   getInt("RATE_LIMIT_MAX_REQUESTS", 300),
		},
		WalletAddress: getEnv("GATEWAY_WALLET", ""),
	}

	cfg.Providers = loadProviders(cfg.Registry.ProvidersFile)
	return cfg
}

// loadProviders reads provider descriptors from the YAML file and applies
// per-provider URL overrides from PROVIDER_URL_<ID> env vars. A missing file
// yields the built-in default set.
func loadProviders(path string) []ProviderConfig {
	providers := defaultProviders()

	if data, err := os.ReadFile(path); err == nil {
		var fileCfg struct {
			Providers []ProviderConfig `yaml:"providers"`
		}
		if err := yaml.Unmarshal(data, &fileCfg); err == nil && len(fileCfg.Providers) > 0 {
			providers = fileCfg.Providers
		}
	}

	for i := range providers {
		envKey := "PROVIDER_URL_" + strings.ToUpper(strings.ReplaceAll(providers[i].ID, "-", "_"))
		if override := os.Getenv(envKey); override != "" {
			providers[i].URL = override
		}
	}
	return providers
}

// defaultProviders is the built-in registry seed used when no providers file
// is present.
func defaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:           "helius",
			Name:         "Helius",
			Chains:       []string{"solana"},
			URL:          os.Getenv("HELIUS_RPC_URL"),
			CostPerCall:  0.00015,
			BatchCost:    &BatchCostConfig{Calls: 1000, Price: 0.08},
			Priority:     10,
			MaxLatencyMs: 1000,
		},
		{
			ID:           "triton",
			Name:         "Triton One",
			Chains:       []string{"solana"},
			URL:          os.Getenv("TRITON_RPC_URL"),
			CostPerCall:  0.0002,
			Priority:     8,
			MaxLatencyMs: 800,
		},
		{
			ID:           "public-solana",
			Name:         "Solana Public RPC",
			Chains:       []string{"solana"},
			URL:          "https://api.mainnet-beta.solana.com",
			CostPerCall:  0.0001,
			Priority:     1,
			MaxLatencyMs: 2000,
		},
		{
			ID:           "alchemy-base",
			Name:         "Alchemy Base",
			Chains:       []string{"base", "base-sepolia"},
			URL:          os.Getenv("ALCHEMY_BASE_RPC_URL"),
			CostPerCall:  0.00012,
			BatchCost:    &BatchCostConfig{Calls: 1000, Price: 0.07},
			Priority:     9,
			MaxLatencyMs: 1200,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// validFacilitatorTypes are the values FACILITATOR_TYPE accepts.
var validFacilitatorTypes = map[string]bool{
	"self-hosted": true,
	"codenut":     true,
	"corbits":     true,
	"payai":       true,
	"auto":        true,
}

// Validate checks that all required configuration is present.
// In production, missing critical values will return an error.
// In development, insecure defaults are tolerated.
func (c *Config) Validate() error {
	var errs []string

	if c.WalletAddress == "" && c.Environment == EnvProduction {
		errs = append(errs, "GATEWAY_WALLET is required in production")
	}
	if c.WalletAddress != "" {
		if err := ValidateWalletAddress(c.WalletAddress); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if !validFacilitatorTypes[c.Facilitator.Type] {
		errs = append(errs, fmt.Sprintf("FACILITATOR_TYPE %q is not one of self-hosted, codenut, corbits, payai, auto", c.Facilitator.Type))
	}
	if c.Facilitator.FallbackType != "" {
		if !validFacilitatorTypes[c.Facilitator.FallbackType] || c.Facilitator.FallbackType == "auto" {
			errs = append(errs, fmt.Sprintf("FACILITATOR_FALLBACK_TYPE %q is invalid", c.Facilitator.FallbackType))
		}
		if c.Facilitator.FallbackType == c.Facilitator.Type {
			errs = append(errs, "FACILITATOR_FALLBACK_TYPE must differ from FACILITATOR_TYPE")
		}
	}

	if c.Facilitator.Type == "self-hosted" &&
		c.Signer.SolanaPrivateKey == "" && c.Signer.EVMPrivateKey == "" {
		errs = append(errs, "FACILITATOR_TYPE=self-hosted requires SOLANA_PRIVATE_KEY or EVM_PRIVATE_KEY")
	}

	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, "provider with empty id in providers config")
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		seen[p.ID] = true
		if len(p.Chains) == 0 {
			errs = append(errs, fmt.Sprintf("provider %q declares no chains", p.ID))
		}
		if p.CostPerCall < 0 {
			errs = append(errs, fmt.Sprintf("provider %q has negative costPerCall", p.ID))
		}
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
