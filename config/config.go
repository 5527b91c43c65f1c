// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/slavaghoul1337-coder/genge/resource"
	"github.com/slavaghoul1337-coder/genge/types"
	"github.com/slavaghoul1337-coder/genge/utils"
)

const (
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Config holds every setting; values come from environment variables.
type Config struct {
	RPCURL             string        `mapstructure:"RPC_URL"`
	Network            string        `mapstructure:"NETWORK"`
	PayTo              string        `mapstructure:"PAY_TO"`
	AssetAddress       string        `mapstructure:"ASSET_ADDRESS"`
	AssetSymbol        string        `mapstructure:"ASSET_SYMBOL"`
	AssetDecimals      int32         `mapstructure:"ASSET_DECIMALS"`
	MinAmountRequired  string        `mapstructure:"MIN_AMOUNT_REQUIRED"`
	MintPrice          string        `mapstructure:"MINT_PRICE"`
	ContractAddress    string        `mapstructure:"CONTRACT_ADDRESS"`
	X402API            string        `mapstructure:"X402_API"`
	X402APIKey         string        `mapstructure:"X402_API_KEY"`
	RPCTimeout         time.Duration `mapstructure:"RPC_TIMEOUT"`
	FacilitatorTimeout time.Duration `mapstructure:"FACILITATOR_TIMEOUT"`
	Port               string        `mapstructure:"PORT"`
	BaseURL            string        `mapstructure:"BASE_URL"`
	LedgerBackend      string        `mapstructure:"LEDGER_BACKEND"`
	LedgerSQLitePath   string        `mapstructure:"LEDGER_SQLITE_PATH"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	RedisKeyPrefix     string        `mapstructure:"REDIS_KEY_PREFIX"`
	ReservationTTL     time.Duration `mapstructure:"RESERVATION_TTL"`
	AuditLogPath       string        `mapstructure:"AUDIT_LOG_PATH"`
	RabbitMQURL        string        `mapstructure:"RABBITMQ_URL"`
	MintExchange       string        `mapstructure:"MINT_EXCHANGE"`
	MintRoutingKey     string        `mapstructure:"MINT_ROUTING_KEY"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	MetricsEnabled     bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"RPC_URL", "NETWORK", "PAY_TO", "ASSET_ADDRESS", "ASSET_SYMBOL", "ASSET_DECIMALS",
	"MIN_AMOUNT_REQUIRED", "MINT_PRICE", "CONTRACT_ADDRESS", "X402_API", "X402_API_KEY",
	"RPC_TIMEOUT", "FACILITATOR_TIMEOUT", "PORT", "BASE_URL", "LEDGER_BACKEND",
	"LEDGER_SQLITE_PATH", "REDIS_URL", "REDIS_KEY_PREFIX", "RESERVATION_TTL", "AUDIT_LOG_PATH",
	"RABBITMQ_URL", "MINT_EXCHANGE", "MINT_ROUTING_KEY", "LOG_LEVEL", "METRICS_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NETWORK", string(types.NetworkBase))
	v.SetDefault("PAY_TO", "0x390d45A9375b9C81c3044314EDE0c9C8E5229DD9")
	v.SetDefault("ASSET_ADDRESS", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	v.SetDefault("ASSET_SYMBOL", "USDC")
	v.SetDefault("ASSET_DECIMALS", 6)
	v.SetDefault("MIN_AMOUNT_REQUIRED", "2")
	v.SetDefault("MINT_PRICE", "3.00")
	v.SetDefault("CONTRACT_ADDRESS", "0x49de8a5d488d33afbba93d6f5f1bc08924ef1718")
	v.SetDefault("RPC_TIMEOUT", "10s")
	v.SetDefault("FACILITATOR_TIMEOUT", "10s")
	v.SetDefault("PORT", "3000")
	v.SetDefault("BASE_URL", "https://genge.vercel.app")
	v.SetDefault("LEDGER_BACKEND", LedgerMemory)
	v.SetDefault("LEDGER_SQLITE_PATH", "data/redemptions.db")
	v.SetDefault("REDIS_KEY_PREFIX", "genge:redemption")
	v.SetDefault("RESERVATION_TTL", "2m")
	v.SetDefault("AUDIT_LOG_PATH", "/tmp/used_tx_hashes.log")
	v.SetDefault("MINT_EXCHANGE", "genge.mint")
	v.SetDefault("MINT_ROUTING_KEY", "mint.authorized")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
}

// Load reads an optional .env file from path, then the environment. Environment wins.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Network = strings.ToLower(strings.TrimSpace(c.Network))
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	c.BaseURL = strings.TrimSuffix(strings.TrimSpace(c.BaseURL), "/")
	c.PayTo = strings.TrimSpace(c.PayTo)
}

func configError(format string, args ...any) error {
	return &types.X402Error{Code: types.ErrConfigError, Message: fmt.Sprintf(format, args...)}
}

// Validate reports the first invalid setting as a CONFIG_ERROR.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return configError("RPC_URL is required")
	}
	if !types.Network(c.Network).IsSupported() {
		return &types.X402Error{Code: types.ErrUnsupportedNetwork, Message: fmt.Sprintf("unsupported network: %s", c.Network)}
	}
	if !common.IsHexAddress(c.PayTo) {
		return configError("PAY_TO must be a hex address")
	}
	if !common.IsHexAddress(c.AssetAddress) {
		return configError("ASSET_ADDRESS must be a hex address")
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		return configError("CONTRACT_ADDRESS must be a hex address")
	}
	if c.AssetDecimals < 0 || c.AssetDecimals > 36 {
		return configError("ASSET_DECIMALS out of range: %d", c.AssetDecimals)
	}
	for key, amount := range map[string]string{"MIN_AMOUNT_REQUIRED": c.MinAmountRequired, "MINT_PRICE": c.MintPrice} {
		if _, err := utils.ValidateAmount(strings.TrimSpace(amount)); err != nil {
			return configError("%s: %v", key, err)
		}
	}
	if _, err := c.MinimumAmount(); err != nil {
		return configError("MIN_AMOUNT_REQUIRED: %v", err)
	}
	if _, err := c.MintPriceUnits(); err != nil {
		return configError("MINT_PRICE: %v", err)
	}
	if (c.X402API == "") != (c.X402APIKey == "") {
		return configError("X402_API and X402_API_KEY must be set together")
	}
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerSQLite:
		if c.LedgerSQLitePath == "" {
			return configError("LEDGER_SQLITE_PATH is required for the sqlite ledger")
		}
	case LedgerRedis:
		if c.RedisURL == "" {
			return configError("REDIS_URL is required for the redis ledger")
		}
		// an expired reservation can be taken by another instance mid-claim
		if c.ReservationTTL <= c.VerificationBudget() {
			return configError("RESERVATION_TTL (%s) must exceed FACILITATOR_TIMEOUT + 3*RPC_TIMEOUT (%s)",
				c.ReservationTTL, c.VerificationBudget())
		}
	default:
		return configError("unknown LEDGER_BACKEND: %s", c.LedgerBackend)
	}
	return nil
}

// VerificationBudget bounds one claim: a facilitator call and at most three chain reads.
func (c *Config) VerificationBudget() time.Duration {
	return c.FacilitatorTimeout + 3*c.RPCTimeout
}

// MinimumAmount is MIN_AMOUNT_REQUIRED in the asset's smallest unit.
func (c *Config) MinimumAmount() (*big.Int, error) {
	return resource.ToBaseUnits(c.MinAmountRequired, c.AssetDecimals)
}

// MintPriceUnits is the price of one minted token in the asset's smallest unit.
func (c *Config) MintPriceUnits() (*big.Int, error) {
	return resource.ToBaseUnits(c.MintPrice, c.AssetDecimals)
}

func (c *Config) PayToAddress() common.Address { return common.HexToAddress(c.PayTo) }

func (c *Config) AssetContract() common.Address { return common.HexToAddress(c.AssetAddress) }

// NFTContract returns the zero address when CONTRACT_ADDRESS is empty.
func (c *Config) NFTContract() common.Address {
	if c.ContractAddress == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.ContractAddress)
}
