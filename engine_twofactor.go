package auth

import (
	"context"
	"errors"

	"github.com/AHegab/Authorization-microservice/token"
)

// EnableTwoFactor provisions a fresh TOTP secret for the user and returns
// it with a QR-encodable otpauth URI. The account is second-factor-gated
// from this point on; re-provisioning replaces any earlier secret.
// [Engine.VerifyTwoFactor] lets the user confirm their authenticator is
// set up correctly.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID string) (*TwoFactorProvision, error) {
	if e.store == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrUpstreamUnavailable
	}

	_, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	user.TwoFactorSecret = secretBase32
	user.TwoFactorEnabled = true
	if _, err := e.store.Save(ctx, user); err != nil {
		return nil, ErrUpstreamUnavailable
	}

	e.emitAudit(ctx, AuditTwoFactorEnable, true, user.ID, user.Email, nil, nil)

	return &TwoFactorProvision{
		Secret: secretBase32,
		URI:    e.totp.ProvisionURI(secretBase32, user.Email),
	}, nil
}

// VerifyTwoFactor checks a code against the stored secret. It lets the
// user confirm their authenticator before they depend on it at login.
func (e *Engine) VerifyTwoFactor(ctx context.Context, userID, code string) error {
	if e.store == nil || e.totp == nil {
		return ErrEngineNotReady
	}

	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrUpstreamUnavailable
	}
	if user.TwoFactorSecret == "" {
		return ErrTwoFactorNotEnabled
	}

	ok, err := e.totp.VerifyCode(user.TwoFactorSecret, code, e.now())
	if err != nil || !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditTwoFactorVerify, false, user.ID, user.Email, ErrInvalidOTP, nil)
		return ErrInvalidOTP
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, AuditTwoFactorVerify, true, user.ID, user.Email, nil, nil)
	return nil
}

// CompleteTwoFactorLogin redeems the pre-auth token returned by
// [Engine.Login] together with a fresh one-time code, and issues the
// session token the first leg withheld. Each challenge is redeemable once;
// repeated wrong codes exhaust it.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, preAuthToken, code string) (*LoginResult, error) {
	if e.tokens == nil || e.store == nil || e.preAuthStore == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(preAuthToken, token.UsePreAuth)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metricInc(MetricTwoFactorFailure)
			e.emitAudit(ctx, AuditLoginTwoFactor, false, "", "", ErrPreAuthExpired, nil)
			return nil, ErrPreAuthExpired
		}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, "", "", ErrPreAuthInvalid, nil)
		return nil, ErrPreAuthInvalid
	}

	challengeID := claims.ID
	if challengeID == "" {
		return nil, ErrPreAuthInvalid
	}

	record, err := e.preAuthStore.Get(ctx, challengeID)
	if err != nil {
		mapped := mapPreAuthStoreError(err)
		e.metricInc(MetricTwoFactorReplay)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, claims.Subject, claims.Email, mapped, func() map[string]string {
			return map[string]string{"reason": "challenge_load_failed"}
		})
		return nil, mapped
	}
	if record.UserID != claims.Subject {
		_, _ = e.preAuthStore.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, claims.Subject, claims.Email, ErrPreAuthInvalid, func() map[string]string {
			return map[string]string{"reason": "subject_mismatch"}
		})
		return nil, ErrPreAuthInvalid
	}

	user, err := e.store.FindByID(ctx, record.UserID)
	if err != nil {
		_, _ = e.preAuthStore.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, record.UserID, record.Email, ErrPreAuthInvalid, nil)
		return nil, ErrPreAuthInvalid
	}
	if !user.TwoFactorEnabled || user.TwoFactorSecret == "" {
		_, _ = e.preAuthStore.Delete(ctx, challengeID)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, ErrTwoFactorNotEnabled, nil)
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := e.totp.VerifyCode(user.TwoFactorSecret, code, e.now())
	if err != nil || !ok {
		return e.failTwoFactorAttempt(ctx, challengeID, user)
	}

	deleted, err := e.preAuthStore.Delete(ctx, challengeID)
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, ErrUpstreamUnavailable, nil)
		return nil, ErrUpstreamUnavailable
	}
	if !deleted {
		e.metricInc(MetricTwoFactorReplay)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, ErrPreAuthInvalid, func() map[string]string {
			return map[string]string{"reason": "challenge_replayed"}
		})
		return nil, ErrPreAuthInvalid
	}

	e.metricInc(MetricTwoFactorSuccess)
	return e.finishLogin(ctx, user, AuditLoginTwoFactor)
}

func (e *Engine) failTwoFactorAttempt(ctx context.Context, challengeID string, user *User) (*LoginResult, error) {
	exceeded, recErr := e.preAuthStore.RecordFailure(ctx, challengeID, preAuthMaxAttempts)
	if recErr != nil {
		mapped := mapPreAuthStoreError(recErr)
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, mapped, nil)
		return nil, mapped
	}
	if exceeded {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, ErrPreAuthInvalid, func() map[string]string {
			return map[string]string{"reason": "attempts_exceeded"}
		})
		return nil, ErrPreAuthInvalid
	}
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, AuditLoginTwoFactor, false, user.ID, user.Email, ErrInvalidOTP, nil)
	return nil, ErrInvalidOTP
}

func mapPreAuthStoreError(err error) error {
	switch {
	case errors.Is(err, errPreAuthChallengeNotFound):
		return ErrPreAuthInvalid
	case errors.Is(err, errPreAuthChallengeExpired):
		return ErrPreAuthExpired
	case errors.Is(err, errPreAuthChallengeExceeded):
		return ErrPreAuthInvalid
	default:
		return ErrUpstreamUnavailable
	}
}
