package shared

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
)

// Canonical Safe 1.3.0 deployment (L2 flavour, used on every non-mainnet chain)
const (
	DefaultSafeProxyFactory    = "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"
	DefaultSafeSingletonL2     = "0x3E5c63644E683549055b9Be8653de26E0B4CD36E"
	DefaultSafeFallbackHandler = "0xf48f2B2d2a534e402487b3ee7C18c33Aec0Fe5e4"
	DefaultSafeTxServiceURL    = "https://dev.sepolia2.transaction.keypersafe.xyz/api"
	SepoliaChainID             = 11155111
)

// AppConfig is the resolved runtime configuration
type AppConfig struct {
	RPCURL     string `json:"rpc_url"`
	RelayerURL string `json:"relayer_url"`
	BackendURL string `json:"backend_url"`

	SignerFactoryAddress common.Address `json:"signer_factory_address"`
	DeployerPrivateKey   string         `json:"-"`
	ChainID              int64          `json:"chain_id"`

	// Vault (Safe) deployment
	SafeTxServiceURL    string         `json:"safe_tx_service_url"`
	SafeProxyFactory    common.Address `json:"safe_proxy_factory"`
	SafeSingleton       common.Address `json:"safe_singleton"`
	SafeFallbackHandler common.Address `json:"safe_fallback_handler"`

	StorePath      string        `json:"store_path"`
	PollInterval   time.Duration `json:"poll_interval"`
	PollMaxRetries int           `json:"poll_max_retries"`
	HTTPTimeout    time.Duration `json:"http_timeout"`
	ListenAddr     string        `json:"listen_addr"`
	Development    bool          `json:"development"`
}

// LoadAppConfig loads .env (if any) and validates the environment.
// Any missing or malformed required value is reported as a ConfigurationError.
func LoadAppConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
	return AppConfigFromEnv()
}

// AppConfigFromEnv builds the configuration from the process environment only
func AppConfigFromEnv() (*AppConfig, error) {
	rpcURL, err := requireEnv("RPC_URL")
	if err != nil {
		return nil, err
	}
	relayerURL, err := requireEnv("RELAYER_URL")
	if err != nil {
		return nil, err
	}
	backendURL, err := requireEnv("BACKEND_URL")
	if err != nil {
		return nil, err
	}
	factory, err := requireAddress("EMAIL_SIGNER_FACTORY_ADDRESS")
	if err != nil {
		return nil, err
	}
	privateKey, err := requireEnv("DEPLOYER_PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	if !IsHexString(privateKey) {
		return nil, NewConfigurationError("DEPLOYER_PRIVATE_KEY", "does not start with 0x")
	}

	safeFactory, err := optionalAddress("SAFE_PROXY_FACTORY_ADDRESS", DefaultSafeProxyFactory)
	if err != nil {
		return nil, err
	}
	safeSingleton, err := optionalAddress("SAFE_SINGLETON_ADDRESS", DefaultSafeSingletonL2)
	if err != nil {
		return nil, err
	}
	fallbackHandler, err := optionalAddress("SAFE_FALLBACK_HANDLER_ADDRESS", DefaultSafeFallbackHandler)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		RPCURL:               rpcURL,
		RelayerURL:           strings.TrimRight(relayerURL, "/"),
		BackendURL:           strings.TrimRight(backendURL, "/"),
		SignerFactoryAddress: factory,
		DeployerPrivateKey:   privateKey,
		ChainID:              int64(GetEnvIntOrDefault("CHAIN_ID", SepoliaChainID)),
		SafeTxServiceURL:     strings.TrimRight(GetEnvOrDefault("SAFE_TX_SERVICE_URL", DefaultSafeTxServiceURL), "/"),
		SafeProxyFactory:     safeFactory,
		SafeSingleton:        safeSingleton,
		SafeFallbackHandler:  fallbackHandler,
		StorePath:            GetEnvOrDefault("STORE_PATH", "./data/store"),
		PollInterval:         time.Duration(GetEnvIntOrDefault("POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		PollMaxRetries:       GetEnvIntOrDefault("POLL_MAX_RETRIES", 100),
		HTTPTimeout:          time.Duration(GetEnvIntOrDefault("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		ListenAddr:           GetEnvOrDefault("LISTEN_ADDR", ":8090"),
		Development:          GetEnvOrDefault("DEVELOPMENT", "false") == "true",
	}

	if cfg.PollInterval <= 0 {
		return nil, NewConfigurationError("POLL_INTERVAL_MS", "must be positive")
	}
	if cfg.PollMaxRetries <= 0 {
		return nil, NewConfigurationError("POLL_MAX_RETRIES", "must be positive")
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", NewConfigurationError(key, "environment variable is required")
	}
	return value, nil
}

func requireAddress(key string) (common.Address, error) {
	value, err := requireEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	return parseAddressValue(key, value)
}

func optionalAddress(key, defaultValue string) (common.Address, error) {
	return parseAddressValue(key, GetEnvOrDefault(key, defaultValue))
}

func parseAddressValue(key, value string) (common.Address, error) {
	if !IsHexString(value) {
		return common.Address{}, NewConfigurationError(key, "does not start with 0x")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, NewConfigurationError(key, "is not a valid address")
	}
	return common.HexToAddress(value), nil
}

// IsHexString reports whether s is a 0x-prefixed hex string
func IsHexString(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	if len(s) == 2 {
		return true
	}
	_, err := hexutil.Decode(evenHex(s))
	return err == nil
}

func evenHex(s string) string {
	if len(s)%2 == 1 {
		return "0x0" + s[2:]
	}
	return s
}

// Helper functions for environment variable handling
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
