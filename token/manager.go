// Package token issues and verifies the signed, expiring tokens the service
// runs on: hour-long session tokens, short pre-auth tokens bridging the
// two-factor login step, and 15-minute password-reset tokens. All three share
// one HMAC-SHA256 signing key but carry a distinct use claim, so a token of
// one kind can never be replayed as another.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Use scopes a token to the single flow it was issued for.
type Use string

const (
	// UseSession marks a full session token.
	UseSession Use = "session"
	// UsePreAuth marks the short-lived token issued after password
	// verification but before the second factor completes.
	UsePreAuth Use = "preauth"
	// UseReset marks a password-reset token.
	UseReset Use = "reset"
)

var (
	// ErrExpired is returned by Verify for well-formed tokens past exp.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned for malformed tokens, bad signatures, and
	// tokens presented outside their issued use.
	ErrInvalid = errors.New("token invalid")
)

// Config configures a Manager. Secret is mandatory; zero TTLs fall back to
// the defaults (1h session, 5m pre-auth, 15m reset). Now is an optional
// clock override for tests.
type Config struct {
	Secret     []byte
	Issuer     string
	SessionTTL time.Duration
	PreAuthTTL time.Duration
	ResetTTL   time.Duration
	Now        func() time.Time
}

// Claims is the payload carried by every token the service signs.
type Claims struct {
	Email string `json:"email"`
	Use   Use    `json:"use"`
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. Instances are immutable and safe for
// concurrent use.
type Manager struct {
	config Config
}

// NewManager validates the signing configuration and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.PreAuthTTL == 0 {
		cfg.PreAuthTTL = 5 * time.Minute
	}
	if cfg.ResetTTL == 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	if cfg.SessionTTL < 0 || cfg.PreAuthTTL < 0 || cfg.ResetTTL < 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// IssueSession signs a session token for the given user.
func (m *Manager) IssueSession(userID, email string) (string, error) {
	return m.issue(userID, email, UseSession, m.config.SessionTTL, "")
}

// IssuePreAuth signs the short-lived token returned when login needs a
// second factor. The challenge id binds the token to a single pending login.
func (m *Manager) IssuePreAuth(userID, email, challengeID string) (string, error) {
	return m.issue(userID, email, UsePreAuth, m.config.PreAuthTTL, challengeID)
}

// IssueReset signs a 15-minute password-reset token.
func (m *Manager) IssueReset(userID, email string) (string, error) {
	return m.issue(userID, email, UseReset, m.config.ResetTTL, "")
}

func (m *Manager) issue(userID, email string, use Use, ttl time.Duration, id string) (string, error) {
	now := m.config.Now()
	claims := Claims{
		Email: email,
		Use:   use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        id,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// Verify checks signature and expiry and that the token was issued for the
// given use. Expiry and invalidity fail distinctly: callers present different
// messages for a stale token than for a tampered one.
func (m *Manager) Verify(tokenStr string, use Use) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Use != use {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// ExtractSubject decodes the subject without verifying the signature. It
// exists for non-authoritative contexts only (logging, negative-validity
// replies) and must never feed an authorization decision; Verify is the
// trusted path.
func (m *Manager) ExtractSubject(tokenStr string) (string, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return "", ErrInvalid
	}
	if claims.Subject == "" {
		return "", ErrInvalid
	}
	return claims.Subject, nil
}
