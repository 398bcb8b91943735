package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	TxTimeout        time.Duration `mapstructure:"TX_TIMEOUT"`
	TaxRate          string        `mapstructure:"TAX_RATE"`
	PaymentTermsDays int           `mapstructure:"PAYMENT_TERMS_DAYS"`
	SnowflakeNode    int64         `mapstructure:"SNOWFLAKE_NODE"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	WriterLockKey    string        `mapstructure:"WRITER_LOCK_KEY"`
	WriterLockTTL    time.Duration `mapstructure:"WRITER_LOCK_TTL"`
	AuthSecret       string        `mapstructure:"AUTH_SECRET"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "TX_TIMEOUT",
	"TAX_RATE", "PAYMENT_TERMS_DAYS", "SNOWFLAKE_NODE", "REDIS_URL",
	"WRITER_LOCK_KEY", "WRITER_LOCK_TTL", "AUTH_SECRET", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TX_TIMEOUT", "5s")
	v.SetDefault("TAX_RATE", "0.15")
	v.SetDefault("PAYMENT_TERMS_DAYS", 30)
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("WRITER_LOCK_KEY", "clinic-ledger:writer")
	v.SetDefault("WRITER_LOCK_TTL", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TaxRateDecimal returns the system tax rate applied to manual invoice lines.
// Validate guarantees it parses.
func (c *Config) TaxRateDecimal() decimal.Decimal {
	d, _ := decimal.NewFromString(c.TaxRate)
	return d
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SECRET must be set so that real JWT authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV=%q", c.Env)
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}

	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return fmt.Errorf("TAX_RATE is not a number: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be within [0, 1], got %s", c.TaxRate)
	}

	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be within [0, DB_MAX_CONNS], got %d", c.DBMinConns)
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("TX_TIMEOUT must be positive, got %s", c.TxTimeout)
	}
	if c.PaymentTermsDays < 0 {
		return fmt.Errorf("PAYMENT_TERMS_DAYS must not be negative, got %d", c.PaymentTermsDays)
	}
	// snowflake uses 10 node bits
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be within [0, 1023], got %d", c.SnowflakeNode)
	}
	if c.RedisURL != "" && c.WriterLockTTL < time.Second {
		return fmt.Errorf("WRITER_LOCK_TTL must be at least 1s, got %s", c.WriterLockTTL)
	}

	return nil
}
