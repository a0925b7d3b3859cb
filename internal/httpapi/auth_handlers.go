package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"poise.dev/internal/audit"
	"poise.dev/internal/auth"
	"poise.dev/internal/obs"
	"poise.dev/internal/sso"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	UserID      int64  `json:"user_id"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, err := a.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		obs.LoginAttempt("invalid_credentials")
		writeErrorCode(w, r, http.StatusUnauthorized, "INCORRECT_USERNAME_PASSWORD", "incorrect email or password")
		return
	case errors.Is(err, auth.ErrFederatedAccount):
		obs.LoginAttempt("federated")
		writeErrorCode(w, r, http.StatusUnauthorized, "FEDERATED_ACCOUNT", "account uses single sign-on")
		return
	case errors.Is(err, auth.ErrMustResetPassword):
		obs.LoginAttempt("must_reset")
		writeErrorCode(w, r, http.StatusForbidden, "MUST_RESET_PASSWORD", "password reset required")
		return
	case err != nil:
		obs.LoginAttempt("error")
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	obs.LoginAttempt("ok")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"email": strings.ToLower(strings.TrimSpace(req.Email)),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrNotFound):
		writeErrorCode(w, r, http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid refresh token")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "token refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleSSORedirect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.handshake == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sso disabled")
		return
	}
	loginURL, err := a.handshake.BeginLogin(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "sso handshake failed")
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (a *API) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.handshake == nil {
		writeError(w, r, http.StatusServiceUnavailable, "sso disabled")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid form body")
		return
	}

	pair, err := a.handshake.HandleCallback(r.Context(), r.PostForm)
	switch {
	case errors.Is(err, sso.ErrMissingCallbackParams):
		writeError(w, r, http.StatusBadRequest, "id_token and state are required")
		return
	case err != nil:
		// The concrete rejection reason is operator-only; clients get one
		// uniform answer.
		writeErrorCode(w, r, http.StatusUnauthorized, "SSO_REJECTED", "sso login rejected")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.sso.login", nil)
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	profile, err := a.auth.Profile(r.Context(), userID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "profile not found")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	// The answer does not reveal whether the account exists. Delivery of the
	// token is a separate channel; unknown and federated accounts get the
	// same accepted response.
	token, err := a.auth.BeginPasswordReset(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrNotFound) && !errors.Is(err, auth.ErrFederatedAccount) {
		writeError(w, r, http.StatusInternalServerError, "password reset failed")
		return
	}
	if err == nil {
		_ = audit.LogEvent(r.Context(), "auth.password_reset.started", map[string]any{
			"email": strings.ToLower(strings.TrimSpace(req.Email)),
		})
	}

	resp := map[string]any{"status": "accepted"}
	if token != "" {
		resp["reset_token"] = token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req passwordResetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID <= 0 || req.Token == "" || req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "user_id, token and new_password are required")
		return
	}

	pair, err := a.auth.ResetPassword(r.Context(), req.UserID, req.Token, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidResetToken), errors.Is(err, auth.ErrNotFound):
		writeErrorCode(w, r, http.StatusUnauthorized, "INVALID_RESET_TOKEN", "invalid or expired reset token")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeErrorCode(w, r, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		return
	case errors.Is(err, auth.ErrFederatedAccount):
		writeErrorCode(w, r, http.StatusBadRequest, "FEDERATED_ACCOUNT", "account uses single sign-on")
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, "password reset failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password_reset.completed", map[string]any{
		"user_id": req.UserID,
	})
	writeJSON(w, http.StatusOK, pair)
}
