package auth

import (
	"context"
	"errors"
)

// Profile returns the caller-visible projection of an account.
func (e *Engine) Profile(ctx context.Context, userID string) (*UserSummary, error) {
	if e.store == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrUpstreamUnavailable
	}
	return summarize(user), nil
}

// UpdateProfile applies a partial update; nil fields are untouched. Email,
// password, role, and two-factor state have their own flows and cannot be
// changed here.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*UserSummary, error) {
	if e.store == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrUpstreamUnavailable
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.MiddleName != nil {
		user.MiddleName = *req.MiddleName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.PhoneNumber != nil {
		user.PhoneNumber = *req.PhoneNumber
	}
	if req.ProfilePicture != nil {
		user.ProfilePicture = *req.ProfilePicture
	}
	if req.BirthDay != nil {
		user.BirthDay = req.BirthDay
	}

	saved, err := e.store.Save(ctx, user)
	if err != nil {
		return nil, ErrUpstreamUnavailable
	}

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, AuditProfileUpdate, true, user.ID, user.Email, nil, nil)
	return summarize(saved), nil
}

// ListUsers returns summaries for every account. Intended for
// administrative surfaces, not end users.
func (e *Engine) ListUsers(ctx context.Context) ([]UserSummary, error) {
	if e.store == nil {
		return nil, ErrEngineNotReady
	}

	users, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, ErrUpstreamUnavailable
	}

	summaries := make([]UserSummary, 0, len(users))
	for i := range users {
		summaries = append(summaries, *summarize(&users[i]))
	}
	return summaries, nil
}
