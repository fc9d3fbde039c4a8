package credguard

import (
	"errors"
	"time"

	"github.com/MrEthical07/credguard/confirmation"
	"github.com/MrEthical07/credguard/internal/limiters"
	"github.com/MrEthical07/credguard/internal/stores"
	"github.com/MrEthical07/credguard/jwt"
	"github.com/MrEthical07/credguard/lockout"
	"github.com/MrEthical07/credguard/password"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder defines a public type used by credguard APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	identities    IdentityStore
	subscriptions SubscriptionLookup
	notifier      Notifier
	confirmations confirmation.Store
	auditSink     AuditSink
	logger        zerolog.Logger
	now           func() time.Time

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the builder configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects Redis for lockout state, confirmation tokens, and the
// JTI denylist. Without it the engine falls back to in-process stores,
// which are only correct for a single instance.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the backing store for identities. Build fails without one.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithSubscriptions sets the lookup used by the deletion integrity check.
func (b *Builder) WithSubscriptions(lookup SubscriptionLookup) *Builder {
	b.subscriptions = lookup
	return b
}

// WithNotifier sets the channel used for confirmation and security notices.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithConfirmationStore overrides the store chosen from the Redis setting.
func (b *Builder) WithConfirmationStore(store confirmation.Store) *Builder {
	b.confirmations = store
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for token expiry, lockout windows, and JWT
// timestamps. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and assembles the Engine. A Builder
// is single use and is not safe for concurrent use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if cfg.Denylist.Enabled && b.redis == nil {
		return nil, errors.New("Denylist requires redis client")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PASSWORDS --------
	hasher, err := password.New(cfg.Password.hasherConfig())
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cloneConfig(cfg),
		hashers:       password.NewPool(hasher, cfg.Password.HashWorkers),
		policy:        cfg.Password.policy(),
		identities:    b.identities,
		subscriptions: b.subscriptions,
		notifier:      b.notifier,
		validate:      validator.New(),
		logger:        b.logger,
		now:           now,
	}

	// -------- LOCKOUT --------
	engine.lockoutPolicy = lockout.Policy{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}
	if b.redis != nil {
		engine.lockouts = limiters.NewLockoutStore(b.redis, engine.lockoutPolicy, cfg.Lockout.RedisPrefix)
	} else {
		engine.lockouts = lockout.NewMemoryStore(engine.lockoutPolicy)
	}

	// -------- SESSION TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		SigningKey: cloneBytes(cfg.JWT.SigningKey),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm
	if cfg.Denylist.Enabled {
		engine.denylist = stores.NewJTIDenylist(b.redis, cfg.Denylist.RedisPrefix)
	}

	// -------- CONFIRMATION TOKENS --------
	switch {
	case b.confirmations != nil:
		engine.confirmations = b.confirmations
	case b.redis != nil:
		engine.confirmations = confirmation.NewRedisStore(b.redis, confirmation.RedisOptions{
			Prefix:        cfg.Confirmation.RedisPrefix,
			UsedRetention: cfg.Confirmation.UsedRetention,
			Now:           now,
		})
	default:
		b.logger.Warn().Msg("no redis client configured; confirmation tokens are process-local")
		engine.confirmations = confirmation.NewMemoryStore(now)
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
