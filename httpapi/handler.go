// Package httpapi exposes the engine over HTTP. Handlers translate JSON
// bodies to engine calls and engine errors to status codes; they hold no
// auth logic of their own.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	auth "github.com/AHegab/Authorization-microservice"
)

type Handler struct {
	engine *auth.Engine
}

func New(engine *auth.Engine) *Handler {
	return &Handler{engine: engine}
}

// Router returns the service mux. Profile and two-factor management routes
// sit behind the bearer guard; the credential flows are public by nature.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/signup", h.signup)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/login/2fa", h.completeTwoFactorLogin)
	mux.HandleFunc("POST /auth/forget-password", h.forgetPassword)
	mux.HandleFunc("POST /auth/reset-password", h.resetPassword)

	mux.Handle("POST /auth/logout", h.guard(http.HandlerFunc(h.logout)))
	mux.Handle("POST /auth/2fa/enable", h.guard(http.HandlerFunc(h.enableTwoFactor)))
	mux.Handle("POST /auth/2fa/verify", h.guard(http.HandlerFunc(h.verifyTwoFactor)))
	mux.Handle("GET /auth/profile", h.guard(http.HandlerFunc(h.profile)))
	mux.Handle("PATCH /auth/profile", h.guard(http.HandlerFunc(h.updateProfile)))
	mux.Handle("GET /auth/users", h.guard(http.HandlerFunc(h.listUsers)))

	return withClientIP(mux)
}

// withClientIP copies the peer address into the request context so the
// engine's audit events carry it.
func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := auth.WithClientIP(r.Context(), host)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type userContextKey struct{}

// UserFromContext returns the account the guard resolved for this request.
func UserFromContext(ctx context.Context) (*auth.UserSummary, bool) {
	user, ok := ctx.Value(userContextKey{}).(*auth.UserSummary)
	return user, ok
}

func (h *Handler) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := h.engine.ResolveFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email          string     `json:"email"`
		Password       string     `json:"password"`
		FirstName      string     `json:"firstName"`
		MiddleName     string     `json:"middleName"`
		LastName       string     `json:"lastName"`
		PhoneNumber    string     `json:"phoneNumber"`
		ProfilePicture string     `json:"profilePicture"`
		BirthDay       *time.Time `json:"birthDay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	summary, err := h.engine.Register(r.Context(), auth.RegisterRequest{
		Email:          body.Email,
		Password:       body.Password,
		FirstName:      body.FirstName,
		MiddleName:     body.MiddleName,
		LastName:       body.LastName,
		PhoneNumber:    body.PhoneNumber,
		ProfilePicture: body.ProfilePicture,
		BirthDay:       body.BirthDay,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.engine.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if result.TwoFactorRequired {
		writeJSON(w, http.StatusOK, map[string]any{
			"twoFactorRequired": true,
			"preAuthToken":      result.PreAuthToken,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": result.SessionToken,
		"user":        result.User,
	})
}

func (h *Handler) completeTwoFactorLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PreAuthToken string `json:"preAuthToken"`
		Code         string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	result, err := h.engine.CompleteTwoFactorLogin(r.Context(), body.PreAuthToken, body.Code)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": result.SessionToken,
		"user":        result.User,
	})
}

// logout exists for client symmetry. Session tokens are self-contained, so
// the server has nothing to revoke; the client discards its copy.
func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	provision, err := h.engine.EnableTwoFactor(r.Context(), user.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":     provision.Secret,
		"otpauthUri": provision.URI,
	})
}

func (h *Handler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.engine.VerifyTwoFactor(r.Context(), user.ID, body.Code); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		FirstName      *string    `json:"firstName"`
		MiddleName     *string    `json:"middleName"`
		LastName       *string    `json:"lastName"`
		PhoneNumber    *string    `json:"phoneNumber"`
		ProfilePicture *string    `json:"profilePicture"`
		BirthDay       *time.Time `json:"birthDay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	updated, err := h.engine.UpdateProfile(r.Context(), user.ID, auth.UpdateProfileRequest{
		FirstName:      body.FirstName,
		MiddleName:     body.MiddleName,
		LastName:       body.LastName,
		PhoneNumber:    body.PhoneNumber,
		ProfilePicture: body.ProfilePicture,
		BirthDay:       body.BirthDay,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.ListUsers(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) forgetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.engine.RequestPasswordReset(r.Context(), body.Email); err != nil {
		writeEngineError(w, err)
		return
	}

	// Same body whether or not the email exists.
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the email is registered, a reset link has been sent",
	})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := h.engine.CompletePasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidOTP),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrPreAuthInvalid),
		errors.Is(err, auth.ErrPreAuthExpired),
		errors.Is(err, auth.ErrResetTokenInvalid),
		errors.Is(err, auth.ErrResetTokenExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidArgument),
		errors.Is(err, auth.ErrTwoFactorNotEnabled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
