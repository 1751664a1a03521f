package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLHOUSE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLHOUSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POOLHOUSE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyfilePath, "POOLHOUSE_WALLET_KEYFILE_PATH")
	setStr(&cfg.Wallet.KeyfilePassword, "POOLHOUSE_WALLET_KEYFILE_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POOLHOUSE_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Token, "POOLHOUSE_CHAIN_TOKEN")
	setUint64(&cfg.Chain.GasLimit, "POOLHOUSE_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.ConfirmTimeout, "POOLHOUSE_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.PollInterval, "POOLHOUSE_CHAIN_POLL_INTERVAL")

	// ── Ledger ──
	setStr(&cfg.Ledger.Admin, "POOLHOUSE_LEDGER_ADMIN")
	setStr(&cfg.Ledger.Reporter, "POOLHOUSE_LEDGER_REPORTER")
	setStringSlice(&cfg.Ledger.Outcomes, "POOLHOUSE_LEDGER_OUTCOMES")
	setBool(&cfg.Ledger.RestoreOnStart, "POOLHOUSE_LEDGER_RESTORE_ON_START")

	// ── Paper ──
	setStr(&cfg.Paper.Custodian, "POOLHOUSE_PAPER_CUSTODIAN")
	setInt(&cfg.Paper.Decimals, "POOLHOUSE_PAPER_DECIMALS")
	setStr(&cfg.Paper.Faucet, "POOLHOUSE_PAPER_FAUCET")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POOLHOUSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POOLHOUSE_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POOLHOUSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLHOUSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLHOUSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLHOUSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLHOUSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLHOUSE_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "POOLHOUSE_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "POOLHOUSE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLHOUSE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLHOUSE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POOLHOUSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLHOUSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLHOUSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLHOUSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLHOUSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLHOUSE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "POOLHOUSE_REDIS_CACHE_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "POOLHOUSE_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.LockTTL, "POOLHOUSE_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLHOUSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLHOUSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLHOUSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLHOUSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLHOUSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLHOUSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLHOUSE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "POOLHOUSE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.MarketsPrefix, "POOLHOUSE_ARCHIVE_MARKETS_PREFIX")
	setStr(&cfg.Archive.AuditPrefix, "POOLHOUSE_ARCHIVE_AUDIT_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POOLHOUSE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POOLHOUSE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLHOUSE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLHOUSE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POOLHOUSE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POOLHOUSE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLHOUSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLHOUSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLHOUSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLHOUSE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLHOUSE_MODE")
	setStr(&cfg.LogLevel, "POOLHOUSE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
