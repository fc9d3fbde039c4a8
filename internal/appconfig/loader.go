package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MrEthical07/credguard"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "CREDGUARD"

	EnvSigningKey  = EnvPrefix + "_JWT_SIGNING_KEY"
	EnvDatabaseURL = EnvPrefix + "_DATABASE_URL"
)

// ErrInvalidConfig is returned when the loaded values fail validation.
var ErrInvalidConfig = errors.New("appconfig: invalid configuration")

type loaderOptions struct {
	configFile string
	envFile    string
}

// Option customises Load.
type Option func(*loaderOptions)

// WithConfigFile reads a YAML file before applying the environment.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile loads a .env file into the process environment. Variables
// already set in the environment win.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// Load builds a validated Config.
func Load(opts ...Option) (*Config, error) {
	var lo loaderOptions
	for _, opt := range opts {
		opt(&lo)
	}

	v := viper.New()
	setDefaults(v)

	if lo.configFile != "" {
		v.SetConfigFile(lo.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", lo.configFile, err)
		}
	}

	if lo.envFile != "" {
		if _, err := os.Stat(lo.envFile); err == nil {
			if err := godotenv.Load(lo.envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", lo.envFile, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.JWT.SigningKey = os.Getenv(EnvSigningKey)
	cfg.Database.URL = os.Getenv(EnvDatabaseURL)
	cfg.Logging.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags, the logging section and the derived engine
// config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.JWT.Denylist && c.Redis.Addr == "" {
		return fmt.Errorf("%w: jwt.denylist requires redis.addr", ErrInvalidConfig)
	}
	engineCfg := c.EngineConfig()
	if err := engineCfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := credguard.DefaultConfig()

	v.SetDefault("service", "credguardd")

	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.metrics_path", "/metrics")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_idle", "5m")
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.timestamp", true)
	v.SetDefault("logging.caller", false)

	v.SetDefault("password.algorithm", def.Password.Algorithm)
	v.SetDefault("password.bcrypt_cost", def.Password.BcryptCost)
	v.SetDefault("password.history_size", def.Password.HistorySize)
	v.SetDefault("password.min_length", def.Password.MinLength)
	v.SetDefault("password.min_strength_score", def.Password.MinStrengthScore)
	v.SetDefault("password.generated_length", def.Password.GeneratedLength)
	v.SetDefault("password.hash_workers", def.Password.HashWorkers)
	v.SetDefault("password.upgrade_on_login", def.Password.UpgradeOnLogin)

	v.SetDefault("lockout.threshold", def.Lockout.Threshold)
	v.SetDefault("lockout.duration", def.Lockout.Duration)

	v.SetDefault("jwt.key_id", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", def.JWT.RefreshTTL)
	v.SetDefault("jwt.denylist", false)

	v.SetDefault("email_change.token_ttl", def.EmailChange.TokenTTL)
	v.SetDefault("email_change.base_url", "")
	v.SetDefault("deletion.token_ttl", def.Deletion.TokenTTL)
	v.SetDefault("deletion.base_url", "")
	v.SetDefault("deletion.blocking_statuses", def.Deletion.BlockingStatuses)

	v.SetDefault("sweep.enabled", def.Sweep.Enabled)
	v.SetDefault("sweep.schedule", def.Sweep.Schedule)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", def.Audit.BufferSize)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.histograms", true)
}
