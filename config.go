package credguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/credguard/password"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

// Config defines a public type used by credguard APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Password     PasswordConfig
	Lockout      LockoutConfig
	JWT          JWTConfig
	Denylist     DenylistConfig
	EmailChange  EmailChangeConfig
	Deletion     DeletionConfig
	Confirmation ConfirmationConfig
	Sweep        SweepConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig defines a public type used by credguard APIs.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Algorithm  string // "bcrypt" (default) or "argon2id"
	BcryptCost int

	Argon2Memory      uint32 // in KB
	Argon2Time        uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32

	HistorySize      int
	MinLength        int
	MinStrengthScore int // zxcvbn score 0..4, 0 disables
	GeneratedLength  int

	HashWorkers      int // 0 = runtime.NumCPU()
	HashQueueTimeout time.Duration
	UpgradeOnLogin   bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig defines a public type used by credguard APIs.
//
// LockoutConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LockoutConfig struct {
	Threshold   uint32
	Duration    time.Duration
	RedisPrefix string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig defines a public type used by credguard APIs.
//
// JWTConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SigningKey []byte // HS256, >= 32 bytes
	KeyID      string
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// DenylistConfig defines a public type used by credguard APIs.
//
// DenylistConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DenylistConfig struct {
	Enabled     bool
	RedisPrefix string
}

/*
====================================
CONFIRMATION WORKFLOWS
====================================
*/

// EmailChangeConfig defines a public type used by credguard APIs.
//
// EmailChangeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type EmailChangeConfig struct {
	TokenTTL time.Duration
	BaseURL  string
}

// DeletionConfig defines a public type used by credguard APIs.
//
// DeletionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DeletionConfig struct {
	TokenTTL         time.Duration
	BaseURL          string // empty disables the confirmation mail
	BlockingStatuses []string
}

// ConfirmationConfig defines a public type used by credguard APIs.
//
// ConfirmationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ConfirmationConfig struct {
	RedisPrefix   string
	UsedRetention time.Duration
}

// SweepConfig defines a public type used by credguard APIs.
//
// SweepConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SweepConfig struct {
	Enabled  bool
	Schedule string // standard 5-field cron expression
}

/*
====================================
OBSERVABILITY
====================================
*/

// AuditConfig defines a public type used by credguard APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by credguard APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	argon := password.DefaultArgon2Config()
	return Config{
		Password: PasswordConfig{
			Algorithm:         password.AlgorithmBcrypt,
			BcryptCost:        password.DefaultBcryptCost,
			Argon2Memory:      argon.Memory,
			Argon2Time:        argon.Time,
			Argon2Parallelism: argon.Parallelism,
			Argon2SaltLength:  argon.SaltLength,
			Argon2KeyLength:   argon.KeyLength,
			HistorySize:       password.DefaultHistorySize,
			MinLength:         password.DefaultMinLength,
			MinStrengthScore:  0,
			GeneratedLength:   password.DefaultGeneratedLength,
			HashWorkers:       0,
			HashQueueTimeout:  5 * time.Second,
			UpgradeOnLogin:    true,
		},
		Lockout: LockoutConfig{
			Threshold:   5,
			Duration:    15 * time.Minute,
			RedisPrefix: "clo",
		},
		JWT: JWTConfig{
			AccessTTL:  60 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Denylist: DenylistConfig{
			Enabled:     false,
			RedisPrefix: "cjd",
		},
		EmailChange: EmailChangeConfig{
			TokenTTL: 24 * time.Hour,
		},
		Deletion: DeletionConfig{
			TokenTTL:         15 * time.Minute,
			BlockingStatuses: []string{"active", "pending"},
		},
		Confirmation: ConfirmationConfig{
			RedisPrefix:   "ccf",
			UsedRetention: 24 * time.Hour,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.SigningKey = cloneBytes(cfg.JWT.SigningKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.Deletion.BlockingStatuses = append([]string(nil), cfg.Deletion.BlockingStatuses...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c PasswordConfig) hasherConfig() password.Config {
	return password.Config{
		Algorithm:  c.Algorithm,
		BcryptCost: c.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      c.Argon2Memory,
			Time:        c.Argon2Time,
			Parallelism: c.Argon2Parallelism,
			SaltLength:  c.Argon2SaltLength,
			KeyLength:   c.Argon2KeyLength,
		},
	}
}

func (c PasswordConfig) policy() password.Policy {
	p := password.DefaultPolicy()
	p.MinLength = c.MinLength
	p.MaxBytes = password.MaxBytesFor(c.Algorithm)
	p.MinStrengthScore = c.MinStrengthScore
	return p
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	// Password
	switch strings.ToLower(c.Password.Algorithm) {
	case password.AlgorithmBcrypt:
		if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
			return errors.New("Password BcryptCost is out of range")
		}
	case password.AlgorithmArgon2id:
		if c.Password.Argon2Memory < 8*1024 {
			return errors.New("Password Argon2Memory must be >= 8192 KB")
		}
		if c.Password.Argon2Time < 1 {
			return errors.New("Password Argon2Time must be >= 1")
		}
		if c.Password.Argon2Parallelism < 1 {
			return errors.New("Password Argon2Parallelism must be >= 1")
		}
		if c.Password.Argon2SaltLength < 16 {
			return errors.New("Password Argon2SaltLength must be >= 16")
		}
		if c.Password.Argon2KeyLength < 16 {
			return errors.New("Password Argon2KeyLength must be >= 16")
		}
	default:
		return errors.New("Password Algorithm must be 'bcrypt' or 'argon2id'")
	}
	if c.Password.HistorySize < 0 {
		return errors.New("Password HistorySize must be >= 0")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MinStrengthScore < 0 || c.Password.MinStrengthScore > 4 {
		return errors.New("Password MinStrengthScore must be between 0 and 4")
	}
	if c.Password.GeneratedLength < c.Password.MinLength {
		return errors.New("Password GeneratedLength must be >= MinLength")
	}
	if limit := c.Password.policy().Limit(); c.Password.MinLength > limit || c.Password.GeneratedLength > limit {
		return fmt.Errorf("Password MinLength and GeneratedLength must be <= %d", limit)
	}
	if c.Password.HashWorkers < 0 {
		return errors.New("Password HashWorkers must be >= 0")
	}
	if c.Password.HashQueueTimeout <= 0 {
		return errors.New("Password HashQueueTimeout must be > 0")
	}

	// Lockout
	if c.Lockout.Threshold == 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if len(c.JWT.SigningKey) < 32 {
		return errors.New("JWT SigningKey must be at least 32 bytes")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Confirmation workflows
	if c.EmailChange.TokenTTL <= 0 {
		return errors.New("EmailChange TokenTTL must be > 0")
	}
	if c.Deletion.TokenTTL <= 0 {
		return errors.New("Deletion TokenTTL must be > 0")
	}
	if len(c.Deletion.BlockingStatuses) == 0 {
		return errors.New("Deletion BlockingStatuses must not be empty")
	}
	if c.Confirmation.UsedRetention < 0 {
		return errors.New("Confirmation UsedRetention must be >= 0")
	}

	// Sweep
	if c.Sweep.Enabled {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return errors.New("Sweep Schedule is not a valid cron expression")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
