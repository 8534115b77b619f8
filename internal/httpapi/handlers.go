// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accounts/internal/account"
)

type userView struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username,omitempty"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
}

func viewUser(u *account.User) userView {
	return userView{
		ID:            u.ID.String(),
		Email:         u.Email,
		Username:      u.UsernameOrEmpty(),
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Status:        string(u.Status),
		EmailVerified: u.EmailVerified,
	}
}

type availabilityResponse struct {
	envelope
	IsAvailable bool `json:"is_available"`
}

type tokenResponse struct {
	envelope
	Token string `json:"token,omitempty"`
}

type signupResponse struct {
	envelope
	User  userView `json:"user"`
	Token string   `json:"token,omitempty"`
}

type profileResponse struct {
	envelope
	User userView `json:"user"`
}

type loginResponse struct {
	envelope
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userView  `json:"user"`
}

// exposed returns token only when the API runs with exposed tokens.
func (h *handler) exposed(token string) string {
	if h.cfg.ExposeTokens {
		return token
	}
	return ""
}

// clientKey identifies the caller for routes that carry no account identifier.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func availabilityMessage(subject string, available bool) string {
	if available {
		return subject + " is available for use"
	}
	return subject + " is not available for use"
}

func (h *handler) checkUsername(w http.ResponseWriter, r *http.Request) {
	var req checkUsernameRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	available, err := h.svc.CheckUsername(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, availabilityResponse{
		envelope:    success(http.StatusOK, availabilityMessage("Username", available)),
		IsAvailable: available,
	})
}

func (h *handler) checkEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	available, err := h.svc.CheckEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, availabilityResponse{
		envelope:    success(http.StatusOK, availabilityMessage("Email", available)),
		IsAvailable: available,
	})
}

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := confirmMatches(req.Password, req.ConfirmPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, token, err := h.svc.Signup(r.Context(), account.SignupInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusCreated, signupResponse{
		envelope: success(http.StatusCreated, "Signup Successful"),
		User:     viewUser(user),
		Token:    h.exposed(token),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, loginResponse{
		envelope:    success(http.StatusOK, "Login Successful"),
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   session.ExpiresAt,
		User:        viewUser(session.User),
	})
}

func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.throttle(r, "verify", clientKey(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, success(http.StatusOK, "Email Verified Successfully"))
}

func (h *handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.throttle(r, "resend-verification", req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.svc.ResendVerification(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, tokenResponse{
		envelope: success(http.StatusOK, "Verification token sent successfully"),
		Token:    h.exposed(token),
	})
}

func (h *handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.throttle(r, "forgot-password", req.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.svc.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, tokenResponse{
		envelope: success(http.StatusOK, "Password reset token sent successfully"),
		Token:    h.exposed(token),
	})
}

func (h *handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := confirmMatches(req.Password, req.ConfirmPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, success(http.StatusOK, "Password reset successful"))
}

func (h *handler) changeEmail(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req emailRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.throttle(r, "change-email", user.ID.String()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, err := h.svc.ChangeEmail(r.Context(), user.ID, req.Email)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, tokenResponse{
		envelope: success(http.StatusOK, "Email change confirmation sent to your current address"),
		Token:    h.exposed(token),
	})
}

func (h *handler) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.throttle(r, "confirm-email-change", clientKey(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.ConfirmEmailChange(r.Context(), req.Token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, success(http.StatusOK, "Email changed successfully"))
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	var req changePasswordRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := confirmMatches(req.Password, req.ConfirmPassword); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), user.ID, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, success(http.StatusOK, "Password changed successfully"))
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r.Context())

	// A session may only edit its own user.
	if r.PathValue("id") != user.ID.String() {
		writeError(w, r, h.logger, oops.Code("SESSION_SUBJECT_MISMATCH").
			With("user_id", user.ID.String()).
			Wrapf(account.ErrUnauthenticated, "session does not belong to the requested user"))
		return
	}

	var req updateProfileRequest
	if err := decode(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	updated, err := h.svc.UpdateProfile(r.Context(), user.ID, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, h.logger, http.StatusOK, profileResponse{
		envelope: success(http.StatusOK, "Profile updated successfully"),
		User:     viewUser(updated),
	})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.logger, http.StatusNotFound, envelope{
		Status:  http.StatusNotFound,
		Message: "Route not found",
		Code:    CodeNotFound,
	})
}
