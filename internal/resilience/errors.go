package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"unicode/utf8"
)

// ErrorKind classifies a failure for retry, fallback and HTTP mapping.
type ErrorKind string

const (
	KindUnknown    ErrorKind = "unknown"
	KindValidation ErrorKind = "validation"
	KindAuth       ErrorKind = "auth"
	KindTransient  ErrorKind = "transient"
	KindPermanent  ErrorKind = "permanent"
	KindStorage    ErrorKind = "storage"
)

// TransientError wraps an error that is safe to retry (429, 5xx, timeout, network).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError is an external failure that retrying will not fix (4xx other than 429).
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps err as permanent.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// ValidationError rejects bad input before any work is done.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthError marks a missing or rejected credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// StorageError marks a persistence failure. The surrounding operation aborts.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err from store operation op. A nil err stays nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Kind returns the classification of err, looking through wrapped chains.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var (
		ve *ValidationError
		ae *AuthError
		se *StorageError
		pe *PermanentError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ae):
		return KindAuth
	case errors.As(err, &se):
		return KindStorage
	case errors.As(err, &pe):
		return KindPermanent
	case IsTransient(err):
		return KindTransient
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code a server should answer with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindTransient, KindPermanent:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FromHTTPStatus classifies a non-2xx response from service. 401 and 403 are
// auth errors, 429 and 5xx transient, other 4xx permanent.
func FromHTTPStatus(service string, code int, body string) error {
	body = truncate(body, 256)
	base := fmt.Errorf("%s: unexpected status %d: %s", service, code, strings.TrimSpace(body))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &AuthError{Err: base}
	case IsTransientHTTPStatus(code):
		return NewTransientError(base, code)
	default:
		return NewPermanentError(base, code)
	}
}

// IsTransient reports whether err (or anything in its chain) is a
// TransientError or looks like a timeout or network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether code is 429 or any 5xx.
func IsTransientHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// Summary renders err as a single line suitable for a job's error_message.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.Join(strings.Fields(err.Error()), " ")
	return fmt.Sprintf("%s: %s", Kind(err), truncate(msg, 500))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
