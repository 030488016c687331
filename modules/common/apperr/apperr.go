package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind - 사용자에게 노출되는 에러 분류
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindUnauthorized  Kind = "unauthorized"
	KindInternal      Kind = "internal"
)

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeQuotaExceeded  = "QUOTA_EXCEEDED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Error - 도메인 에러. Message는 그대로 사용자에게 전달됨
type Error struct {
	Kind    Kind
	Message string
	Limit   int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation / NotFound / QuotaExceeded / Unauthorized / Internal - 생성자
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func QuotaExceeded(limit int, message string) *Error {
	return &Error{Kind: KindQuotaExceeded, Message: message, Limit: limit}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Internal - 내부 에러, message는 외부 노출용 일반 문구
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf - 에러 분류 (도메인 에러가 아니면 internal)
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Status - 분류별 HTTP 상태 코드
func Status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func code(kind Kind) string {
	switch kind {
	case KindValidation:
		return ErrCodeInvalidRequest
	case KindNotFound:
		return ErrCodeNotFound
	case KindQuotaExceeded:
		return ErrCodeQuotaExceeded
	case KindUnauthorized:
		return ErrCodeUnauthorized
	default:
		return ErrCodeInternalError
	}
}

// Response - 에러 응답 본문
type Response struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
	Limit        int    `json:"limit,omitempty"`
}

// WriteJSON - JSON 응답 작성
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Write - 에러를 분류에 맞는 상태 코드와 함께 응답
// internal 에러는 일반 문구만 노출
func Write(w http.ResponseWriter, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("Internal server error", err)
	}
	WriteJSON(w, Status(appErr.Kind), Response{
		Success:      false,
		ErrorMessage: appErr.Message,
		ErrorCode:    code(appErr.Kind),
		Limit:        appErr.Limit,
	})
}
