package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// ErrorCodePrefix is prepended to numeric codes, e.g. "greenhouse-mirror-3"
	ErrorCodePrefix = "greenhouse-mirror"

	// ErrorHref is the base of the per-code documentation link
	ErrorHref = "/api/greenhouse-mirror/v1/errors/"

	// NotFound occurs when a resource is not present in a mirror or on the server
	ErrorNotFound ServiceErrorCode = 1

	// Validation occurs when an object or configuration fails validation
	ErrorValidation ServiceErrorCode = 2

	// Conflict occurs when a write races with another writer
	ErrorConflict ServiceErrorCode = 3

	// BadRequest occurs when a request is malformed or invalid
	ErrorBadRequest ServiceErrorCode = 4

	// General occurs when an error fails to match any other error code
	ErrorGeneral ServiceErrorCode = 5

	// ConfigNotFound occurs when the mirror configuration file cannot be found
	ErrorConfigNotFound ServiceErrorCode = 6

	// KubernetesError occurs when there's an error interacting with the Kubernetes API
	ErrorKubernetesError ServiceErrorCode = 7

	// MalformedEvent occurs when a watch event item carries no usable metadata.name
	ErrorMalformedEvent ServiceErrorCode = 8

	// TransportError occurs when a watch feed reports a transport failure
	ErrorTransportError ServiceErrorCode = 9

	// WriteRejected occurs when a create/update/delete call fails or returns an unexpected kind
	ErrorWriteRejected ServiceErrorCode = 10

	// UnknownKind occurs when a request names a resource kind with no mirror
	ErrorUnknownKind ServiceErrorCode = 11

	// BodyTooLarge occurs when a write body exceeds the accepted size
	ErrorBodyTooLarge ServiceErrorCode = 12
)

type ServiceErrorCode int

type ServiceErrors []ServiceError

// Find returns a copy of the registered error for code
func Find(code ServiceErrorCode) (bool, *ServiceError) {
	for _, err := range Errors() {
		if err.Code == code {
			found := err
			return true, &found
		}
	}
	return false, nil
}

func Errors() ServiceErrors {
	return ServiceErrors{
		ServiceError{ErrorNotFound, "Resource not found", http.StatusNotFound},
		ServiceError{ErrorValidation, "General validation failure", http.StatusBadRequest},
		ServiceError{ErrorConflict, "Resource was modified concurrently", http.StatusConflict},
		ServiceError{ErrorBadRequest, "Bad request", http.StatusBadRequest},
		ServiceError{ErrorGeneral, "Unspecified error", http.StatusInternalServerError},
		ServiceError{ErrorConfigNotFound, "Mirror configuration not found", http.StatusNotFound},
		ServiceError{ErrorKubernetesError, "Kubernetes API error", http.StatusBadGateway},
		ServiceError{ErrorMalformedEvent, "Malformed watch event", http.StatusInternalServerError},
		ServiceError{ErrorTransportError, "Watch transport failure", http.StatusBadGateway},
		ServiceError{ErrorWriteRejected, "Write rejected", http.StatusUnprocessableEntity},
		ServiceError{ErrorUnknownKind, "Unknown resource kind", http.StatusNotFound},
		ServiceError{ErrorBodyTooLarge, "Request body too large", http.StatusRequestEntityTooLarge},
	}
}

type ServiceError struct {
	// Code is the numeric and distinct ID for the error
	Code ServiceErrorCode
	// Reason is the context-specific reason the error was generated
	Reason string
	// HttpCode is the status returned when the error is surfaced over HTTP
	HttpCode int
}

// New builds a ServiceError for code. Reason may contain format verbs,
// which are replaced by values. Unknown codes fall back to ErrorGeneral.
func New(code ServiceErrorCode, reason string, values ...interface{}) *ServiceError {
	exists, err := Find(code)
	if !exists {
		_, err = Find(ErrorGeneral)
	}

	if reason != "" {
		err.Reason = fmt.Sprintf(reason, values...)
	}

	return err
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", *CodeStr(e.Code), e.Reason)
}

func (e *ServiceError) Is404() bool {
	return e.Code == ErrorNotFound || e.Code == ErrorUnknownKind
}

func (e *ServiceError) IsConflict() bool {
	return e.Code == ErrorConflict
}

func CodeStr(code ServiceErrorCode) *string {
	str := fmt.Sprintf("%s-%d", ErrorCodePrefix, code)
	return &str
}

func Href(code ServiceErrorCode) *string {
	str := fmt.Sprintf("%s%d", ErrorHref, code)
	return &str
}

// AsServiceError unwraps err into a *ServiceError if one is in its chain
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// HasCode reports whether err wraps a ServiceError with the given code
func HasCode(err error, code ServiceErrorCode) bool {
	svcErr, ok := AsServiceError(err)
	return ok && svcErr.Code == code
}

func NotFound(reason string, values ...interface{}) *ServiceError {
	return New(ErrorNotFound, reason, values...)
}

func Validation(reason string, values ...interface{}) *ServiceError {
	return New(ErrorValidation, reason, values...)
}

func Conflict(reason string, values ...interface{}) *ServiceError {
	return New(ErrorConflict, reason, values...)
}

func BadRequest(reason string, values ...interface{}) *ServiceError {
	return New(ErrorBadRequest, reason, values...)
}

func GeneralError(reason string, values ...interface{}) *ServiceError {
	return New(ErrorGeneral, reason, values...)
}

func ConfigNotFound(reason string, values ...interface{}) *ServiceError {
	return New(ErrorConfigNotFound, reason, values...)
}

func KubernetesError(reason string, values ...interface{}) *ServiceError {
	return New(ErrorKubernetesError, reason, values...)
}

func MalformedEvent(reason string, values ...interface{}) *ServiceError {
	return New(ErrorMalformedEvent, reason, values...)
}

func TransportError(reason string, values ...interface{}) *ServiceError {
	return New(ErrorTransportError, reason, values...)
}

func WriteRejected(reason string, values ...interface{}) *ServiceError {
	return New(ErrorWriteRejected, reason, values...)
}

func UnknownKind(reason string, values ...interface{}) *ServiceError {
	return New(ErrorUnknownKind, reason, values...)
}

func BodyTooLarge(reason string, values ...interface{}) *ServiceError {
	return New(ErrorBodyTooLarge, reason, values...)
}
