package auth

import (
	"context"
	"time"
)

// Role is the binary access level stored on a user record. The engine never
// evaluates policy beyond carrying the value; that is the caller's concern.
type Role string

const (
	// RoleUser is the default role assigned at registration.
	RoleUser Role = "user"
	// RoleAdmin marks administrative accounts.
	RoleAdmin Role = "admin"
)

// User is the durable account record owned by a [CredentialStore].
//
// TwoFactorSecret is set exactly when TwoFactorEnabled is true: provisioning
// writes both together and re-provisioning replaces the prior secret.
// PasswordHash is always an argon2id PHC string, never plaintext.
type User struct {
	ID               string
	Email            string
	PasswordHash     string
	FirstName        string
	MiddleName       string
	LastName         string
	PhoneNumber      string
	ProfilePicture   string
	BirthDay         *time.Time
	LastLogin        *time.Time
	Role             Role
	TwoFactorEnabled bool
	TwoFactorSecret  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CredentialStore is the contract the engine needs from a user database.
//
// Implementations must enforce email uniqueness and surface a violation as
// [ErrDuplicateEmail]; concurrent registrations for the same email race at
// the store and the constraint is the final arbiter. Lookups for unknown
// users return [ErrNotFound].
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Save(ctx context.Context, user *User) (*User, error)
	ListAll(ctx context.Context) ([]User, error)
}

// Notifier delivers the password-reset link to a user. The engine treats
// delivery as fire-and-forget; transport, retries, and templates are the
// implementation's concern.
type Notifier interface {
	SendPasswordResetEmail(ctx context.Context, email, resetLink string) error
}

// UserSummary is the caller-visible projection of a [User]. It never carries
// the password hash or the two-factor secret.
type UserSummary struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"firstName"`
	MiddleName       string     `json:"middleName,omitempty"`
	LastName         string     `json:"lastName"`
	PhoneNumber      string     `json:"phoneNumber,omitempty"`
	ProfilePicture   string     `json:"profilePicture,omitempty"`
	BirthDay         *time.Time `json:"birthDay,omitempty"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
	Role             Role       `json:"role"`
	TwoFactorEnabled bool       `json:"isTwoFactorEnabled"`
}

// RegisterRequest is the input for [Engine.Register]. Email, Password,
// FirstName, and LastName are required; the rest is optional profile data.
type RegisterRequest struct {
	Email          string
	Password       string
	FirstName      string
	MiddleName     string
	LastName       string
	PhoneNumber    string
	ProfilePicture string
	BirthDay       *time.Time
}

// LoginResult is returned by [Engine.Login] and
// [Engine.CompleteTwoFactorLogin].
//
// When TwoFactorRequired is set, SessionToken is empty and PreAuthToken holds
// a short-lived challenge that must be redeemed with a valid one-time code
// before a session token is issued.
type LoginResult struct {
	SessionToken      string
	TwoFactorRequired bool
	PreAuthToken      string
	User              *UserSummary
}

// TwoFactorProvision holds the base32 secret and otpauth:// URI returned by
// [Engine.EnableTwoFactor]. The URI is QR-encodable as-is.
type TwoFactorProvision struct {
	Secret string
	URI    string
}

// UpdateProfileRequest is a partial profile update; nil fields are left
// unchanged. Email, password, role, and two-factor state are not updatable
// through this path.
type UpdateProfileRequest struct {
	FirstName      *string
	MiddleName     *string
	LastName       *string
	PhoneNumber    *string
	ProfilePicture *string
	BirthDay       *time.Time
}
