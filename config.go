package auth

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Construct it with
// [DefaultConfig] and override fields before passing it to the [Builder];
// after Build the engine treats its copy as immutable.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	TwoFactor TwoFactorConfig
	Reset     ResetConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig configures session and pre-auth token issuance. Secret is the
// process-wide signing key, injected at startup and never derived from
// request data.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	SessionTTL time.Duration
	PreAuthTTL time.Duration
}

// PasswordConfig holds the argon2id parameters and the entropy gates.
// ResetMinEntropyBits is intentionally stricter than MinEntropyBits: reset is
// the highest-value attack target.
type PasswordConfig struct {
	Memory              uint32 // in KB
	Time                uint32
	Parallelism         uint8
	SaltLength          uint32
	KeyLength           uint32
	MinEntropyBits      float64
	ResetMinEntropyBits float64
}

// TwoFactorConfig configures TOTP generation and verification.
type TwoFactorConfig struct {
	Issuer string
	Digits int
	Period int
	Skew   int
}

// ResetConfig configures the password-reset flow. TTL bounds the reset-token
// lifetime; LinkBaseURL is the prefix of the link embedded in reset emails.
type ResetConfig struct {
	TTL         time.Duration
	LinkBaseURL string
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the baseline configuration: 1h sessions, 15m reset
// tokens, RFC-6238 TOTP defaults with one step of skew, and the 50/60-bit
// entropy gates.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:     "auth-service",
			SessionTTL: time.Hour,
			PreAuthTTL: 5 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:              64 * 1024,
			Time:                3,
			Parallelism:         2,
			SaltLength:          16,
			KeyLength:           32,
			MinEntropyBits:      50,
			ResetMinEntropyBits: 60,
		},
		TwoFactor: TwoFactorConfig{
			Issuer: "auth-service",
			Digits: 6,
			Period: 30,
			Skew:   1,
		},
		Reset: ResetConfig{
			TTL:         15 * time.Minute,
			LinkBaseURL: "http://localhost:3000/auth/reset-password",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot operate
// with. It is called by [Builder.Build].
func (c *Config) Validate() error {
	if len(c.Token.Secret) < 32 {
		return errors.New("token secret must be at least 32 bytes")
	}
	if c.Token.SessionTTL <= 0 {
		return errors.New("session TTL must be positive")
	}
	if c.Token.PreAuthTTL <= 0 || c.Token.PreAuthTTL > 30*time.Minute {
		return errors.New("pre-auth TTL must be within (0, 30m]")
	}
	if c.Reset.TTL <= 0 || c.Reset.TTL > time.Hour {
		return errors.New("reset TTL must be within (0, 1h]")
	}
	if c.Reset.LinkBaseURL == "" {
		return errors.New("reset link base URL required")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("totp skew must be between 0 and 2 steps")
	}
	if c.Password.MinEntropyBits <= 0 {
		return errors.New("minimum password entropy must be positive")
	}
	if c.Password.ResetMinEntropyBits < c.Password.MinEntropyBits {
		return errors.New("reset entropy gate must not be weaker than the registration gate")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be positive")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
