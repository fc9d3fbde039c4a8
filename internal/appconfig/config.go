package appconfig

import (
	"strings"
	"time"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/logger"
)

// Config is the full daemon configuration.
type Config struct {
	Service string `mapstructure:"service" validate:"required"`

	HTTP     HTTPConfig     `mapstructure:"http"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  logger.Config  `mapstructure:"logging"`

	Password    PasswordConfig    `mapstructure:"password"`
	Lockout     LockoutConfig     `mapstructure:"lockout"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	EmailChange EmailChangeConfig `mapstructure:"email_change"`
	Deletion    DeletionConfig    `mapstructure:"deletion"`
	Sweep       SweepConfig       `mapstructure:"sweep"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// HTTPConfig controls the daemon's HTTP listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	MetricsPath     string        `mapstructure:"metrics_path" validate:"required,startswith=/"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RedisConfig selects the Redis backend. An empty Addr runs without Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// DatabaseConfig configures the Postgres identity store. URL is env-only.
type DatabaseConfig struct {
	URL            string        `mapstructure:"-" validate:"required"`
	MaxOpenConns   int           `mapstructure:"max_open_conns" validate:"gte=0"`
	ConnMaxIdle    time.Duration `mapstructure:"conn_max_idle" validate:"gte=0"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
}

type PasswordConfig struct {
	Algorithm        string `mapstructure:"algorithm" validate:"oneof=bcrypt argon2id"`
	BcryptCost       int    `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
	HistorySize      int    `mapstructure:"history_size" validate:"gte=0"`
	MinLength        int    `mapstructure:"min_length" validate:"gte=1"`
	MinStrengthScore int    `mapstructure:"min_strength_score" validate:"gte=0,lte=4"`
	GeneratedLength  int    `mapstructure:"generated_length" validate:"gtefield=MinLength"`
	HashWorkers      int    `mapstructure:"hash_workers" validate:"gte=0"`
	UpgradeOnLogin   bool   `mapstructure:"upgrade_on_login"`
}

type LockoutConfig struct {
	Threshold uint32        `mapstructure:"threshold" validate:"gt=0"`
	Duration  time.Duration `mapstructure:"duration" validate:"gt=0"`
}

// JWTConfig holds session token settings. SigningKey is env-only.
type JWTConfig struct {
	SigningKey string        `mapstructure:"-" validate:"required,min=32"`
	KeyID      string        `mapstructure:"key_id"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	AccessTTL  time.Duration `mapstructure:"access_ttl" validate:"gt=0"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl" validate:"gtfield=AccessTTL"`
	Denylist   bool          `mapstructure:"denylist"`
}

type EmailChangeConfig struct {
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	BaseURL  string        `mapstructure:"base_url" validate:"omitempty,url"`
}

type DeletionConfig struct {
	TokenTTL         time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	BaseURL          string        `mapstructure:"base_url" validate:"omitempty,url"`
	BlockingStatuses []string      `mapstructure:"blocking_statuses" validate:"min=1,dive,required"`
}

type SweepConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Histograms bool `mapstructure:"histograms"`
}

// EngineConfig maps the daemon settings onto credguard.Config, keeping the
// library defaults for everything the daemon does not expose.
func (c *Config) EngineConfig() credguard.Config {
	cfg := credguard.DefaultConfig()

	cfg.Password.Algorithm = strings.ToLower(c.Password.Algorithm)
	cfg.Password.BcryptCost = c.Password.BcryptCost
	cfg.Password.HistorySize = c.Password.HistorySize
	cfg.Password.MinLength = c.Password.MinLength
	cfg.Password.MinStrengthScore = c.Password.MinStrengthScore
	cfg.Password.GeneratedLength = c.Password.GeneratedLength
	cfg.Password.HashWorkers = c.Password.HashWorkers
	cfg.Password.UpgradeOnLogin = c.Password.UpgradeOnLogin

	cfg.Lockout.Threshold = c.Lockout.Threshold
	cfg.Lockout.Duration = c.Lockout.Duration

	cfg.JWT.SigningKey = []byte(c.JWT.SigningKey)
	cfg.JWT.KeyID = c.JWT.KeyID
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.Denylist.Enabled = c.JWT.Denylist

	cfg.EmailChange.TokenTTL = c.EmailChange.TokenTTL
	cfg.EmailChange.BaseURL = c.EmailChange.BaseURL
	cfg.Deletion.TokenTTL = c.Deletion.TokenTTL
	cfg.Deletion.BaseURL = c.Deletion.BaseURL
	cfg.Deletion.BlockingStatuses = append([]string(nil), c.Deletion.BlockingStatuses...)

	cfg.Sweep.Enabled = c.Sweep.Enabled
	cfg.Sweep.Schedule = c.Sweep.Schedule

	cfg.Audit.Enabled = c.Audit.Enabled
	if c.Audit.BufferSize > 0 {
		cfg.Audit.BufferSize = c.Audit.BufferSize
	}
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Histograms

	return cfg
}
