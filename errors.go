package auth

import "errors"

var (
	// ErrDuplicateEmail is returned by Register when the email is already taken.
	ErrDuplicateEmail = errors.New("user with this email already exists")
	// ErrWeakPassword is returned when a password falls below the entropy gate.
	ErrWeakPassword = errors.New("password entropy too low")
	// ErrInvalidCredentials is returned on login failure. It is deliberately
	// identical for unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrTwoFactorNotEnabled is returned when verifying a code for a user
	// without a stored secret.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrInvalidOTP is returned when a submitted one-time code does not match.
	ErrInvalidOTP = errors.New("invalid one-time code")
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrResetTokenInvalid is returned for tampered or malformed reset tokens.
	ErrResetTokenInvalid = errors.New("invalid password reset token")
	// ErrResetTokenExpired is returned for reset tokens past their 15-minute window.
	ErrResetTokenExpired = errors.New("password reset token expired")
	// ErrPreAuthInvalid is returned when a two-factor login challenge cannot be
	// matched to a pending login.
	ErrPreAuthInvalid = errors.New("invalid pre-auth token")
	// ErrPreAuthExpired is returned when a two-factor login challenge has expired.
	ErrPreAuthExpired = errors.New("pre-auth token expired")
	// ErrInvalidArgument is returned when a request is missing required fields.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by profile lookups for unknown users.
	ErrNotFound = errors.New("user not found")
	// ErrUpstreamUnavailable is returned when a collaborator (store, broker,
	// notifier) fails in a way the engine cannot recover from.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build wired
	// all mandatory collaborators.
	ErrEngineNotReady = errors.New("engine not initialized")
)
