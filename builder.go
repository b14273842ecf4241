package auth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AHegab/Authorization-microservice/password"
	"github.com/AHegab/Authorization-microservice/token"
)

// Builder assembles an Engine from its collaborators. A Builder is single
// use; Build returns an error when called twice.
type Builder struct {
	config Config
	redis  *redis.Client

	store    CredentialStore
	notifier Notifier

	auditSink AuditSink
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the pre-auth challenge store. Required.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Tests use this to cross
// token and code expiry boundaries without sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.notifier == nil {
		return nil, errors.New("notifier required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		notifier: b.notifier,
		now:      clock,
	}

	engine.preAuthStore = newPreAuthChallengeStore(b.redis, clock)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TwoFactor)

	ph, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	// The decoy hash keeps Login's verify cost uniform when the email does
	// not resolve to an account.
	decoy, err := ph.Hash("decoy-credential-for-unknown-accounts")
	if err != nil {
		return nil, err
	}
	engine.decoyHash = decoy

	tm, err := token.NewManager(token.Config{
		Secret:     cloneBytes(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		SessionTTL: cfg.Token.SessionTTL,
		PreAuthTTL: cfg.Token.PreAuthTTL,
		ResetTTL:   cfg.Reset.TTL,
		Now:        clock,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	b.built = true

	return engine, nil
}
