// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldops/gatekeeper/internal/auth"
	"github.com/fieldops/gatekeeper/internal/observability"
	"github.com/fieldops/gatekeeper/pkg/errutil"
)

// maxBodyBytes caps request bodies. Every body is a small JSON object.
const maxBodyBytes = 64 << 10

// ForgotAcceptedMessage is returned for every well-formed forgot-password request.
const ForgotAcceptedMessage = "If the address is registered, a reset link has been sent.\n"

// Authenticator checks credentials and issues session tokens.
type Authenticator interface {
	Login(ctx context.Context, subject, password string) (*auth.LoginResult, error)
}

// PasswordResetter runs the forgot-password flow.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type loginRequest struct {
	Subject  string `json:"subject"`
	Password string `json:"password"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type meResponse struct {
	Subject   string            `json:"subject"`
	Issuer    string            `json:"issuer,omitempty"`
	TokenID   string            `json:"token_id,omitempty"`
	IssuedAt  time.Time         `json:"issued_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// publicMessages are the only error texts sent to clients.
var publicMessages = map[string]string{
	"AUTH_INVALID_CREDENTIALS": "invalid subject or password\n",
	"AUTH_ACCOUNT_LOCKED":      "account temporarily locked, try again later\n",
	"RESET_TOKEN_INVALID":      "invalid or expired token\n",
	"RESET_PASSWORD_EMPTY":     "new password is required\n",
}

type handlers struct {
	auth    Authenticator
	resets  PasswordResetter
	metrics *observability.AuthMetrics
	logger  *slog.Logger
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Subject, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.metrics.RecordLogin(observability.ResultInvalid)
		case errutil.Code(err) == "AUTH_ACCOUNT_LOCKED":
			h.metrics.RecordLogin(observability.ResultLocked)
			if wait, ok := auth.RetryAfter(err); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second).Seconds())))
			}
		default:
			h.metrics.RecordLogin(observability.ResultError)
		}
		h.writeError(w, r, err)
		return
	}

	h.metrics.RecordLogin(observability.ResultSuccess)
	w.Header().Set("Cache-Control", "no-store")
	writeText(w, http.StatusOK, result.Token)
}

func (h *handlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// The response never depends on whether the address is registered.
	if err := h.resets.RequestReset(r.Context(), req.Email); err != nil {
		h.metrics.RecordPasswordReset(observability.StageRequest, observability.ResultError)
		errutil.LogErrorContext(r.Context(), h.logger, "password reset request failed", err)
	} else {
		h.metrics.RecordPasswordReset(observability.StageRequest, observability.ResultSuccess)
	}
	writeText(w, http.StatusAccepted, ForgotAcceptedMessage)
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.resets.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		result := observability.ResultError
		if errutil.HTTPStatus(err) == http.StatusBadRequest {
			result = observability.ResultInvalid
		}
		h.metrics.RecordPasswordReset(observability.StageComplete, result)
		h.writeError(w, r, err)
		return
	}

	h.metrics.RecordPasswordReset(observability.StageComplete, observability.ResultSuccess)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	resp := meResponse{Subject: id.Subject}
	if c := id.Claims; c != nil {
		resp.Issuer = c.Issuer
		resp.TokenID = c.ID
		resp.IssuedAt = c.IssuedAt.UTC()
		resp.ExpiresAt = c.ExpiresAt.UTC()
		resp.Claims = c.Extra
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.DebugContext(r.Context(), "write response failed", "error", err)
	}
}

// writeError answers with the status for err. Server errors are logged and
// their details never reach the client.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errutil.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err)
	}
	msg, ok := publicMessages[errutil.Code(err)]
	if !ok {
		msg = http.StatusText(status) + "\n"
	}
	writeText(w, status, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeText(w, http.StatusBadRequest, "invalid request body\n")
		return false
	}
	return true
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body))
}
