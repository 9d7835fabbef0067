// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package errutil

import (
	"net/http"
	"strings"
)

var statusByCode = map[string]int{
	"AUTH_INVALID_CREDENTIALS": http.StatusUnauthorized,
	"AUTH_ACCOUNT_LOCKED":      http.StatusTooManyRequests,
	"AUTH_ACCOUNT_EXISTS":      http.StatusConflict,
	"AUTH_EMPTY_PASSWORD":      http.StatusBadRequest,
	"AUTH_INVALID_SUBJECT":     http.StatusBadRequest,
	"AUTH_INVALID_EMAIL":       http.StatusBadRequest,
	"RESET_TOKEN_INVALID":      http.StatusBadRequest,
	"RESET_PASSWORD_EMPTY":     http.StatusBadRequest,
	"RATE_LIMITED":             http.StatusTooManyRequests,
}

// HTTPStatus maps an error to the HTTP status a handler should answer with.
// Token verification failures map to 401. Unknown or uncoded errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	code := Code(err)
	if status, ok := statusByCode[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "TOKEN_") {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
