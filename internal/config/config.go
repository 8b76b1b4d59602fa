/**
 * @description
 * Configuration loader for the Juicy Vision custody backend.
 * Responsible for reading environment variables, setting defaults, and performing strict validation.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files
 * - standard "os": For reading env vars
 * - standard "fmt": For error reporting
 *
 * @notes
 * - Fails fast if critical variables (Database URL, reserves key) are missing.
 * - The supported chain set is pure configuration: SUPPORTED_CHAIN_IDS plus one
 *   RPC_URL_<id> per chain. Protocol contract addresses are shared across chains
 *   (same factory/implementation/forwarder deployment everywhere), which is what
 *   keeps counterfactual account addresses identical on every chain.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	Chains   ChainsConfig
	Signing  SigningConfig
	Bundler  BundlerConfig
	Services ServicesConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port string
	Env  string // "development" or "production"
}

// DBConfig holds PostgreSQL settings
type DBConfig struct {
	URL string
}

// RedisConfig holds Redis settings
type RedisConfig struct {
	URL string
}

// ChainsConfig holds the supported chain set and the protocol addresses
// shared by every chain.
type ChainsConfig struct {
	ChainIDs []uint64
	RPCURLs  map[uint64]string // chain ID -> RPC endpoint

	AccountFactoryAddress string // CREATE2 factory for smart accounts
	AccountImplementation string // account implementation behind the proxy
	AccountInitCodeHash   string // keccak256 of the proxy init code, for local CREATE2 derivation
	ForwarderAddress      string // ERC-2771 trusted forwarder
	TerminalAddress       string // protocol payment terminal (settlement deposits)
	EthUsdFeedAddress     string // Chainlink-style ETH/USD aggregator
}

// SigningConfig holds the system signer material and the key-store endpoint.
type SigningConfig struct {
	ReservesPrivateKey string // hex, no 0x prefix required
	KeystoreURL        string // signing-key store service (get key per user)
	SaltNamespace      string // namespace mixed into per-user account salts
}

// BundlerConfig holds the transaction bundling/relaying service settings.
type BundlerConfig struct {
	URL       string
	APIKey    string
	APISecret string
}

// ServicesConfig holds external service keys (Auth, etc.)
type ServicesConfig struct {
	ClerkSecretKey string
	ClerkJWKSURL   string // URL to fetch JSON Web Key Set for JWT validation
}

// Load reads .env file and populates the Config struct
func Load() (*Config, error) {
	// Attempt to load .env, but don't crash if it fails (k8s/prod might inject env vars directly)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		DB: DBConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Chains: ChainsConfig{
			AccountFactoryAddress: getEnv("ACCOUNT_FACTORY_ADDRESS", ""),
			AccountImplementation: getEnv("ACCOUNT_IMPLEMENTATION_ADDRESS", ""),
			AccountInitCodeHash:   getEnv("ACCOUNT_INIT_CODE_HASH", ""),
			ForwarderAddress:      getEnv("FORWARDER_ADDRESS", ""),
			TerminalAddress:       getEnv("TERMINAL_ADDRESS", ""),
			EthUsdFeedAddress:     getEnv("ETH_USD_FEED_ADDRESS", ""),
		},
		Signing: SigningConfig{
			ReservesPrivateKey: sanitizeCredential(getEnv("RESERVES_PRIVATE_KEY", "")),
			KeystoreURL:        getEnv("KEYSTORE_URL", ""),
			SaltNamespace:      getEnv("ACCOUNT_SALT_NAMESPACE", "juicy.account.v1"),
		},
		Bundler: BundlerConfig{
			URL:       getEnv("BUNDLER_URL", ""),
			APIKey:    sanitizeCredential(getEnv("BUNDLER_API_KEY", "")),
			APISecret: sanitizeCredential(getEnv("BUNDLER_API_SECRET", "")),
		},
		Services: ServicesConfig{
			ClerkSecretKey: getEnv("CLERK_SECRET_KEY", ""),
			ClerkJWKSURL:   getEnv("CLERK_JWKS_URL", ""),
		},
	}

	chainIDs, rpcURLs, err := loadChainSet()
	if err != nil {
		return nil, err
	}
	cfg.Chains.ChainIDs = chainIDs
	cfg.Chains.RPCURLs = rpcURLs

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadChainSet parses SUPPORTED_CHAIN_IDS and resolves RPC_URL_<id> per chain.
func loadChainSet() ([]uint64, map[uint64]string, error) {
	raw := getEnv("SUPPORTED_CHAIN_IDS", "1")
	parts := strings.Split(raw, ",")

	ids := make([]uint64, 0, len(parts))
	urls := make(map[uint64]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid chain id %q in SUPPORTED_CHAIN_IDS", part)
		}
		rpc := getEnv(fmt.Sprintf("RPC_URL_%d", id), "")
		if rpc == "" {
			return nil, nil, fmt.Errorf("RPC_URL_%d is required for chain %d", id, id)
		}
		ids = append(ids, id)
		urls[id] = rpc
	}
	if len(ids) == 0 {
		return nil, nil, fmt.Errorf("SUPPORTED_CHAIN_IDS must list at least one chain")
	}
	return ids, urls, nil
}

// validate checks for required variables
func validate(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Signing.ReservesPrivateKey == "" && cfg.Server.Env != "test" {
		return fmt.Errorf("RESERVES_PRIVATE_KEY is required")
	}
	if cfg.Chains.AccountFactoryAddress == "" {
		return fmt.Errorf("ACCOUNT_FACTORY_ADDRESS is required")
	}
	if cfg.Services.ClerkSecretKey == "" && cfg.Server.Env != "test" {
		// Warning: strictly required for Auth middleware
		fmt.Println("Warning: CLERK_SECRET_KEY is missing. Auth middleware will fail.")
	}
	return nil
}

// Helper to get env var with default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func sanitizeCredential(value string) string {
	trimmed := strings.TrimSpace(value)
	return strings.Trim(trimmed, "\"")
}

// Helper to get env var as int
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
