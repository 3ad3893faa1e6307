package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"Duet/internal/apperr"
	"Duet/internal/middleware"

	"go.uber.org/zap"
)

type errorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// statusFor - HTTP-статус для класса ошибки.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeInvalidInput:
		return http.StatusBadRequest
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError пишет ошибку в формате {"error":{"code","message"}}. Внутренние детали
// только в лог.
func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	switch code {
	case apperr.CodeInternal:
		logger.Errorw("request failed", "path", r.URL.Path, "error", err)
	case apperr.CodeTransient:
		logger.Warnw("request failed, retryable", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, statusFor(code), errorBody{Error: errorDetail{Code: code, Message: apperr.MessageOf(err)}})
}

// decodeJSON читает тело запроса; пустое тело допустимо для операций без полей.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.InvalidInput("invalid json body")
	}
	return nil
}

var errUnauthenticated = apperr.Unauthenticated("authentication required")

// requireUser возвращает uid из контекста или отвечает 401.
func requireUser(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger) (string, bool) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, logger, r, errUnauthenticated)
		return "", false
	}
	return uid, true
}
