package petauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petlink-dev/petauth/account"
	"github.com/petlink-dev/petauth/identity"
	"github.com/petlink-dev/petauth/password"
	"github.com/petlink-dev/petauth/redisstore"
	"github.com/petlink-dev/petauth/session"
	"github.com/petlink-dev/petauth/token"
	"github.com/petlink-dev/petauth/verification"
)

// Builder assembles an Engine. A zero builder with just a Redis client and
// a token secret yields a working engine on the built-in Redis stores;
// every dependency can be overridden for other backends or tests.
type Builder struct {
	config Config
	redis  *redis.Client

	accounts      account.Store
	verifications verification.Store
	hasher        PasswordHasher
	sms           verification.SmsSender
	clients       map[account.Provider]identity.Client
	auditSink     AuditSink

	built bool
}

// New returns a builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config:  defaultConfig(),
		clients: make(map[account.Provider]identity.Client),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the built-in stores.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithAccountStore overrides the account store.
func (b *Builder) WithAccountStore(store account.Store) *Builder {
	b.accounts = store
	return b
}

// WithVerificationStore overrides the verification store.
func (b *Builder) WithVerificationStore(store verification.Store) *Builder {
	b.verifications = store
	return b
}

// WithPasswordHasher overrides the default argon2id hasher.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithSmsSender sets the delivery channel for verification codes. Required
// when verification is enabled.
func (b *Builder) WithSmsSender(sender verification.SmsSender) *Builder {
	b.sms = sender
	return b
}

// WithProviderClient registers an OAuth client for one provider.
func (b *Builder) WithProviderClient(p account.Provider, c identity.Client) *Builder {
	b.clients[p] = c
	return b
}

// WithAuditSink sets the audit event consumer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the metrics collector.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires defaults for any dependency not
// overridden, and returns the engine. A builder builds at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	accounts := b.accounts
	if accounts == nil {
		if b.redis == nil {
			return nil, errors.New("redis client or account store required")
		}
		accounts = redisstore.NewAccountStore(b.redis, cfg.Store.RedisPrefix)
	}

	hasher := b.hasher
	if hasher == nil {
		ph, err := password.New(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		hasher = ph
	}

	codec, err := token.NewCodec(token.Config{
		Secret:     cfg.Token.Secret,
		Issuer:     cfg.Token.Issuer,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Leeway:     cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	var flow *verification.Flow
	if cfg.Verification.Enabled {
		if b.sms == nil {
			return nil, errors.New("sms sender required when verification is enabled")
		}
		verifications := b.verifications
		if verifications == nil {
			if b.redis == nil {
				return nil, errors.New("redis client or verification store required")
			}
			verifications = redisstore.NewVerificationStore(b.redis, cfg.Store.RedisPrefix, cfg.Verification.RetentionTTL)
		}
		flow, err = verification.NewFlow(verifications, b.sms, verification.Config{
			CodeTTL:    cfg.Verification.CodeTTL,
			CodeDigits: cfg.Verification.CodeDigits,
		})
		if err != nil {
			return nil, err
		}
	}

	resolver, err := identity.NewResolver(accounts, b.clients, cfg.Account.DefaultRole)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		accounts: accounts,
		codec:    codec,
		hasher:   hasher,
		guard:    NewLoginGuard(cfg.Lockout.Threshold, cfg.Lockout.Duration),
		sessions: session.NewRegistry(codec, accounts),
		flow:     flow,
		resolver: resolver,
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		now:      time.Now,
	}

	b.built = true

	return engine, nil
}
