// Package config defines the top-level configuration for the poolhouse
// ledger daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLHOUSE_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the custodian signing key. Exactly one source is needed:
// a raw hex key (development) or an encrypted keyfile plus its password.
type WalletConfig struct {
	PrivateKey      string `toml:"private_key"`
	KeyfilePath     string `toml:"keyfile_path"`
	KeyfilePassword string `toml:"keyfile_password"`
}

// ChainConfig holds the EVM endpoint and the token contract the ledger
// escrows.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	Token          string   `toml:"token"`
	GasLimit       uint64   `toml:"gas_limit"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	PollInterval   duration `toml:"poll_interval"`
}

// LedgerConfig holds the ledger's privileged identities and the outcome set
// every market is created with.
type LedgerConfig struct {
	Admin          string   `toml:"admin"`
	Reporter       string   `toml:"reporter"`
	Outcomes       []string `toml:"outcomes"`
	RestoreOnStart bool     `toml:"restore_on_start"`
}

// PaperConfig holds parameters for the in-memory token used by paper mode.
// Faucet is a base-unit amount credited to every account on first touch.
type PaperConfig struct {
	Custodian string `toml:"custodian"`
	Decimals  int    `toml:"decimals"`
	Faucet    string `toml:"faucet"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds parameters for the archive mode, which exports settled
// markets and aged audit rows to object storage.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	MarketsPrefix string `toml:"markets_prefix"`
	AuditPrefix   string `toml:"audit_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. APIKey gates the mutating
// endpoints; when empty the server refuses to start in serve mode.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			GasLimit:       0, // 0 = estimate per call
			ConfirmTimeout: duration{90 * time.Second},
			PollInterval:   duration{time.Second},
		},
		Ledger: LedgerConfig{
			Outcomes:       []string{"home", "draw", "away"},
			RestoreOnStart: true,
		},
		Paper: PaperConfig{
			Custodian: "0x0000000000000000000000000000000000000001",
			Decimals:  6,
			Faucet:    "1000000000",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			CacheTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10_000,
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolhouse-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			MarketsPrefix: "archive/markets",
			AuditPrefix:   "archive/audit",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   50,
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market-created", "result-reported", "winnings-claimed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"paper":   true,
	"archive": true,
	"keyfile": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, paper, archive, keyfile)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: serve mode signs real transactions, keyfile mode encrypts a raw
	// key to disk.
	if mode == "serve" {
		if c.Wallet.PrivateKey == "" && c.Wallet.KeyfilePath == "" {
			errs = append(errs, "wallet: either private_key or keyfile_path must be set for mode serve")
		}
	}
	if mode == "keyfile" {
		if c.Wallet.PrivateKey == "" {
			errs = append(errs, "wallet: private_key is required for mode keyfile")
		}
		if c.Wallet.KeyfilePath == "" {
			errs = append(errs, "wallet: keyfile_path is required for mode keyfile")
		}
	}
	if c.Wallet.KeyfilePath != "" && c.Wallet.KeyfilePassword == "" {
		errs = append(errs, "wallet: keyfile_password is required when keyfile_path is set")
	}

	// Chain settings only matter in serve mode.
	if mode == "serve" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode serve")
		}
		if !isAddress(c.Chain.Token) {
			errs = append(errs, fmt.Sprintf("chain: token %q is not a valid contract address", c.Chain.Token))
		}
		if c.Chain.ConfirmTimeout.Duration <= 0 {
			errs = append(errs, "chain: confirm_timeout must be > 0")
		}
		if c.Chain.PollInterval.Duration <= 0 {
			errs = append(errs, "chain: poll_interval must be > 0")
		}
	}

	// Ledger identities
	if !isAddress(c.Ledger.Admin) {
		errs = append(errs, fmt.Sprintf("ledger: admin %q is not a valid address", c.Ledger.Admin))
	}
	if !isAddress(c.Ledger.Reporter) {
		errs = append(errs, fmt.Sprintf("ledger: reporter %q is not a valid address", c.Ledger.Reporter))
	}
	if len(c.Ledger.Outcomes) == 0 {
		errs = append(errs, "ledger: outcomes must not be empty")
	}
	seen := make(map[string]bool, len(c.Ledger.Outcomes))
	for _, o := range c.Ledger.Outcomes {
		if strings.TrimSpace(o) == "" {
			errs = append(errs, "ledger: outcomes must not contain empty entries")
			continue
		}
		if seen[o] {
			errs = append(errs, fmt.Sprintf("ledger: duplicate outcome %q", o))
		}
		seen[o] = true
	}

	// Paper token settings only matter in paper mode.
	if mode == "paper" {
		if !isAddress(c.Paper.Custodian) {
			errs = append(errs, fmt.Sprintf("paper: custodian %q is not a valid address", c.Paper.Custodian))
		}
		if c.Paper.Decimals < 0 || c.Paper.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("paper: decimals must be 0-18, got %d", c.Paper.Decimals))
		}
		if c.Paper.Faucet != "" {
			if f, ok := new(big.Int).SetString(c.Paper.Faucet, 10); !ok || f.Sign() < 0 {
				errs = append(errs, fmt.Sprintf("paper: faucet %q is not a non-negative base-unit amount", c.Paper.Faucet))
			}
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.CacheTTL.Duration < 0 {
		errs = append(errs, "redis: cache_ttl must not be negative")
	}
	if c.Redis.StreamMaxLen < 1 {
		errs = append(errs, "redis: stream_max_len must be >= 1")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Archive
	if c.Archive.RetentionDays < 1 {
		errs = append(errs, "archive: retention_days must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 disables limiting)")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
		if (mode == "serve" || mode == "paper") && c.Server.APIKey == "" {
			errs = append(errs, "server: api_key must be set so mutating endpoints are not open")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isAddress reports whether s is a well-formed, non-zero hex address.
func isAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
