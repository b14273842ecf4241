package auth

import (
	"context"
	"errors"
	"net/url"

	"github.com/AHegab/Authorization-microservice/password"
	"github.com/AHegab/Authorization-microservice/token"
)

// RequestPasswordReset starts the forgot-password flow. Whether or not the
// email maps to an account, the caller observes the same nil return;
// everything distinguishing the two paths happens out of band. The response
// therefore cannot be used to probe which emails are registered.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e.store == nil || e.tokens == nil || e.notifier == nil {
		return ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidArgument
	}

	user, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, AuditPasswordResetStart, true, "", email, nil, func() map[string]string {
				return map[string]string{"outcome": "unknown_email"}
			})
			return nil
		}
		return ErrUpstreamUnavailable
	}

	resetToken, err := e.tokens.IssueReset(user.ID, user.Email)
	if err != nil {
		return err
	}

	link := e.config.Reset.LinkBaseURL + "?token=" + url.QueryEscape(resetToken)

	// Delivery failure is swallowed: surfacing it would make registered
	// emails observable through the error channel.
	if err := e.notifier.SendPasswordResetEmail(ctx, user.Email, link); err != nil {
		e.emitAudit(ctx, AuditPasswordResetStart, false, user.ID, user.Email, ErrUpstreamUnavailable, func() map[string]string {
			return map[string]string{"reason": "delivery_failed"}
		})
		return nil
	}

	e.metricInc(MetricPasswordResetRequested)
	e.emitAudit(ctx, AuditPasswordResetStart, true, user.ID, user.Email, nil, nil)
	return nil
}

// CompletePasswordReset exchanges a live reset token and a new password for
// an updated credential. The new password faces a stricter entropy gate than
// registration. Tokens are not consumed on use; they die only by expiry.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if e.store == nil || e.tokens == nil || e.passwordHash == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Verify(resetToken, token.UseReset)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metricInc(MetricPasswordResetRejected)
			e.emitAudit(ctx, AuditPasswordResetFinish, false, "", "", ErrResetTokenExpired, nil)
			return ErrResetTokenExpired
		}
		e.metricInc(MetricPasswordResetRejected)
		e.emitAudit(ctx, AuditPasswordResetFinish, false, "", "", ErrResetTokenInvalid, nil)
		return ErrResetTokenInvalid
	}

	if password.EntropyBits(newPassword) < e.config.Password.ResetMinEntropyBits {
		e.metricInc(MetricPasswordResetRejected)
		e.emitAudit(ctx, AuditPasswordResetFinish, false, claims.Subject, claims.Email, ErrWeakPassword, nil)
		return ErrWeakPassword
	}

	user, err := e.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricPasswordResetRejected)
			e.emitAudit(ctx, AuditPasswordResetFinish, false, claims.Subject, claims.Email, ErrResetTokenInvalid, nil)
			return ErrResetTokenInvalid
		}
		return ErrUpstreamUnavailable
	}

	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return err
	}
	newPassword = ""

	user.PasswordHash = hash
	if _, err := e.store.Save(ctx, user); err != nil {
		return ErrUpstreamUnavailable
	}

	e.metricInc(MetricPasswordResetCompleted)
	e.emitAudit(ctx, AuditPasswordResetFinish, true, user.ID, user.Email, nil, nil)
	return nil
}
