package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AHegab/Authorization-microservice/password"
	"github.com/AHegab/Authorization-microservice/token"
)

// Engine is the authentication core. Build one with [Builder]; the zero
// value is not usable. All methods are safe for concurrent use.
type Engine struct {
	config       Config
	store        CredentialStore
	notifier     Notifier
	passwordHash *password.Hasher
	tokens       *token.Manager
	totp         *totpManager
	preAuthStore *preAuthChallengeStore
	audit        *auditDispatcher
	metrics      *Metrics
	decoyHash    string
	now          func() time.Time
}

// Close flushes and stops the audit dispatcher. It does not close the
// redis client or the credential store; the caller owns those.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Register creates an account. The password must clear the registration
// entropy gate; the email must be unused. The store's uniqueness constraint
// is the final arbiter when two registrations race on the same email.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*UserSummary, error) {
	if e.passwordHash == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" || req.FirstName == "" || req.LastName == "" {
		return nil, ErrInvalidArgument
	}

	if password.EntropyBits(req.Password) < e.config.Password.MinEntropyBits {
		e.metricInc(MetricRegisterWeakPassword)
		e.emitAudit(ctx, AuditRegister, false, "", email, ErrWeakPassword, nil)
		return nil, ErrWeakPassword
	}

	hash, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		e.emitAudit(ctx, AuditRegister, false, "", email, err, nil)
		return nil, err
	}
	req.Password = ""

	user := &User{
		Email:          email,
		PasswordHash:   hash,
		FirstName:      req.FirstName,
		MiddleName:     req.MiddleName,
		LastName:       req.LastName,
		PhoneNumber:    req.PhoneNumber,
		ProfilePicture: req.ProfilePicture,
		BirthDay:       req.BirthDay,
		Role:           RoleUser,
	}

	created, err := e.store.Create(ctx, user)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, AuditRegister, false, "", email, ErrDuplicateEmail, nil)
			return nil, ErrDuplicateEmail
		}
		e.emitAudit(ctx, AuditRegister, false, "", email, err, nil)
		return nil, ErrUpstreamUnavailable
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditRegister, true, created.ID, email, nil, nil)

	return summarize(created), nil
}

// Login verifies credentials. For accounts with two-factor enabled it does
// not issue a session; it returns a pre-auth token that must be redeemed
// through [Engine.CompleteTwoFactorLogin]. Unknown emails and wrong
// passwords fail identically.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e.passwordHash == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, "", email, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "empty_input"}
		})
		return nil, ErrInvalidCredentials
	}

	user, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, ErrUpstreamUnavailable
		}
		// Burn a verify against the decoy hash so a missing account costs
		// the same as a wrong password.
		_, _ = e.passwordHash.Verify(plaintext, e.decoyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, "", email, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "unknown_email"}
		})
		return nil, ErrInvalidCredentials
	}

	ok, err := e.passwordHash.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, AuditLogin, false, user.ID, email, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_mismatch"}
		})
		return nil, ErrInvalidCredentials
	}
	plaintext = ""

	if user.TwoFactorEnabled {
		preAuth, err := e.issueTwoFactorChallenge(ctx, user)
		if err != nil {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, AuditLogin, false, user.ID, email, err, nil)
			return nil, err
		}
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, AuditLogin, true, user.ID, email, nil, func() map[string]string {
			return map[string]string{"two_factor": "required"}
		})
		return &LoginResult{
			TwoFactorRequired: true,
			PreAuthToken:      preAuth,
		}, nil
	}

	return e.finishLogin(ctx, user, AuditLogin)
}

// finishLogin stamps the last-login time and issues the session token. The
// stamp is best-effort; a store hiccup must not fail an authenticated login.
func (e *Engine) finishLogin(ctx context.Context, user *User, eventType string) (*LoginResult, error) {
	now := e.now()
	user.LastLogin = &now
	if saved, err := e.store.Save(ctx, user); err == nil {
		user = saved
	}

	sessionToken, err := e.tokens.IssueSession(user.ID, user.Email)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, eventType, false, user.ID, user.Email, err, func() map[string]string {
			return map[string]string{"reason": "token_issue_failed"}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, eventType, true, user.ID, user.Email, nil, nil)

	return &LoginResult{
		SessionToken: sessionToken,
		User:         summarize(user),
	}, nil
}

func (e *Engine) issueTwoFactorChallenge(ctx context.Context, user *User) (string, error) {
	challengeID := uuid.NewString()
	ttl := e.config.Token.PreAuthTTL

	record := &preAuthChallenge{
		UserID:    user.ID,
		Email:     user.Email,
		ExpiresAt: e.now().Add(ttl).Unix(),
	}
	if err := e.preAuthStore.Save(ctx, challengeID, record, ttl); err != nil {
		return "", ErrUpstreamUnavailable
	}

	return e.tokens.IssuePreAuth(user.ID, user.Email, challengeID)
}

// ResolveFromToken returns the account behind a session token. Expired and
// tampered tokens fail distinctly.
func (e *Engine) ResolveFromToken(ctx context.Context, sessionToken string) (*UserSummary, error) {
	if e.tokens == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(sessionToken, token.UseSession)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	user, err := e.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, ErrUpstreamUnavailable
	}

	return summarize(user), nil
}

// ValidateToken is the answer to an asynchronous validation request: it
// reports whether the session token is currently good and, when it is, the
// user it belongs to. It never returns an error for a bad token, only for
// backend failures.
func (e *Engine) ValidateToken(ctx context.Context, sessionToken string) (string, bool, error) {
	if e.tokens == nil || e.store == nil {
		return "", false, ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(sessionToken, token.UseSession)
	if err != nil {
		e.metricInc(MetricTokenValidationInvalid)
		e.emitAudit(ctx, AuditTokenValidation, false, "", "", ErrInvalidToken, nil)
		return "", false, nil
	}

	if _, err := e.store.FindByID(ctx, claims.Subject); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricTokenValidationInvalid)
			e.emitAudit(ctx, AuditTokenValidation, false, claims.Subject, claims.Email, ErrInvalidToken, nil)
			return "", false, nil
		}
		return "", false, ErrUpstreamUnavailable
	}

	e.metricInc(MetricTokenValidationValid)
	e.emitAudit(ctx, AuditTokenValidation, true, claims.Subject, claims.Email, nil, nil)
	return claims.Subject, true, nil
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = code
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrDuplicateEmail):
		return "duplicate_email"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrTwoFactorNotEnabled):
		return "two_factor_not_enabled"
	case errors.Is(err, ErrInvalidOTP):
		return "invalid_otp"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrResetTokenExpired):
		return "reset_token_expired"
	case errors.Is(err, ErrResetTokenInvalid):
		return "reset_token_invalid"
	case errors.Is(err, ErrPreAuthExpired):
		return "preauth_expired"
	case errors.Is(err, ErrPreAuthInvalid):
		return "preauth_invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func summarize(u *User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		MiddleName:       u.MiddleName,
		LastName:         u.LastName,
		PhoneNumber:      u.PhoneNumber,
		ProfilePicture:   u.ProfilePicture,
		BirthDay:         u.BirthDay,
		LastLogin:        u.LastLogin,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}
