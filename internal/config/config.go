package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/gasless-labs/feepayer/pkg/validation"
)

const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"

	EmailProviderSMTP     = "smtp"
	EmailProviderSendGrid = "sendgrid"
)

type Config struct {
	Development bool
	// API configuration
	APIPort        int
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies may set X-Forwarded-For; empty means the socket peer is the client
	TrustedProxies []string
	// Postgres configuration
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string

	// Network configuration
	Network      string
	ChainID      *big.Int
	RPCURLs      []string
	SubmitMethod string

	// Signing keys (hex, with or without 0x)
	FeePayerPrivateKey     string
	SwapOperatorPrivateKey string

	// Relay policy
	GasPriceCeiling        *big.Int
	MinDAppBalance         decimal.Decimal
	TerminationOffsetHours int
	SubmitMaxAttempts      int
	ReceiptMaxAttempts     int
	ReceiptPollInterval    time.Duration

	// Gasless swap configuration
	GaslessSwapRouter   string
	GaslessSwapTokenIn  string
	GaslessSwapTokenOut string
	GaslessSwapGasLimit uint64

	// Email configuration
	EmailProvider  string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	SMTPSender     string
	SendGridAPIKey string
	SendGridFrom   string

	// Notification configuration
	TelegramBotToken    string
	TelegramAlertChatID string
}

// IsProduction reports whether policy validation is enforced.
func (c *Config) IsProduction() bool {
	return c.Network != NetworkTestnet
}

// GaslessSwapEnabled reports whether the swap endpoint is configured.
func (c *Config) GaslessSwapEnabled() bool {
	return c.GaslessSwapRouter != "" && c.GaslessSwapTokenIn != "" && c.GaslessSwapTokenOut != ""
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:    getEnvAsBool("DEVELOPMENT", false),
		APIPort:        getEnvAsInt("API_PORT", 3000),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
		TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),

		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvAsInt("POSTGRES_PORT", 5432),
		PostgresDB:       getEnv("POSTGRES_DB", "feepayer"),

		Network:      strings.ToLower(getEnv("NETWORK", NetworkMainnet)),
		ChainID:      getEnvAsBigInt("CHAIN_ID", big.NewInt(8217)),
		RPCURLs:      getEnvAsList("RPC_URLS", []string{"https://public-en.node.kaia.io"}),
		SubmitMethod: getEnv("SUBMIT_METHOD", "kaia_sendRawTransaction"),

		FeePayerPrivateKey:     getEnv("FEE_PAYER_PRIVATE_KEY", ""),
		SwapOperatorPrivateKey: getEnv("SWAP_OPERATOR_PRIVATE_KEY", ""),

		GasPriceCeiling:        new(big.Int).Mul(big.NewInt(int64(getEnvAsInt("GAS_PRICE_CEILING_GWEI", 50))), big.NewInt(1e9)),
		MinDAppBalance:         getEnvAsDecimal("MIN_DAPP_BALANCE", decimal.New(1, 17)), // 0.1 KAIA
		TerminationOffsetHours: getEnvAsInt("TERMINATION_OFFSET_HOURS", 9),
		SubmitMaxAttempts:      getEnvAsInt("SUBMIT_MAX_ATTEMPTS", 5),
		ReceiptMaxAttempts:     getEnvAsInt("RECEIPT_MAX_ATTEMPTS", 15),
		ReceiptPollInterval:    getEnvAsDuration("RECEIPT_POLL_INTERVAL", 1500*time.Millisecond),

		GaslessSwapRouter:   getEnv("GASLESS_SWAP_ROUTER", ""),
		GaslessSwapTokenIn:  getEnv("GASLESS_SWAP_TOKEN_IN", ""),
		GaslessSwapTokenOut: getEnv("GASLESS_SWAP_TOKEN_OUT", ""),
		GaslessSwapGasLimit: uint64(getEnvAsInt("GASLESS_SWAP_GAS_LIMIT", 500000)),

		EmailProvider:  strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
		SMTPHost:       getEnv("SMTP_HOST", "smtp.example.com"),
		SMTPPort:       getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:       getEnv("SMTP_USER", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SMTPSender:     getEnv("SMTP_SENDER", ""),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		SendGridFrom:   getEnv("SENDGRID_FROM_NAME", "Fee Delegation"),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: getEnv("TELEGRAM_ALERT_CHAT_ID", ""),
	}

	if cfg.SwapOperatorPrivateKey == "" {
		cfg.SwapOperatorPrivateKey = cfg.FeePayerPrivateKey
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.Network != NetworkMainnet && c.Network != NetworkTestnet {
		return fmt.Errorf("NETWORK must be %q or %q, got %q", NetworkMainnet, NetworkTestnet, c.Network)
	}

	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("RPC_URLS is required")
	}

	if c.ChainID == nil || c.ChainID.Sign() <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}

	if c.FeePayerPrivateKey == "" {
		return fmt.Errorf("FEE_PAYER_PRIVATE_KEY is required")
	}
	if len(strings.TrimPrefix(c.FeePayerPrivateKey, "0x")) != 64 {
		return fmt.Errorf("FEE_PAYER_PRIVATE_KEY must be 64 hex characters")
	}

	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %v", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimitBurst)
	}

	if c.SubmitMaxAttempts <= 0 || c.ReceiptMaxAttempts <= 0 {
		return fmt.Errorf("SUBMIT_MAX_ATTEMPTS and RECEIPT_MAX_ATTEMPTS must be positive")
	}

	for name, addr := range map[string]string{
		"GASLESS_SWAP_ROUTER":    c.GaslessSwapRouter,
		"GASLESS_SWAP_TOKEN_IN":  c.GaslessSwapTokenIn,
		"GASLESS_SWAP_TOKEN_OUT": c.GaslessSwapTokenOut,
	} {
		if addr == "" {
			continue
		}
		if err := validation.ValidateAddress(addr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.EmailProvider != EmailProviderSMTP && c.EmailProvider != EmailProviderSendGrid {
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q", EmailProviderSMTP, EmailProviderSendGrid)
	}
	if c.EmailProvider == EmailProviderSendGrid && c.SendGridAPIKey == "" {
		return fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER=sendgrid")
	}

	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBigInt(name string, defaultValue *big.Int) *big.Int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, ok := new(big.Int).SetString(valueStr, 10); ok {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDecimal(name string, defaultValue decimal.Decimal) decimal.Decimal {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := decimal.NewFromString(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsList(name string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(name)
	if !exists {
		return defaultValue
	}
	return SplitList(valueStr)
}

// SplitList splits a comma separated list, dropping blank entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
