// Package errors defines the application error taxonomy and the
// centralized reporting helpers built on top of it.
package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewValidationError marks input the flow cannot use as-is, such as an
// amount that does not parse as a number.
func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        "E100",
		Message:     msg,
		UserMessage: fmt.Sprintf("Dato no válido. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// NewUpstreamError wraps a non-success response from a billing collaborator.
// Submissions are never retried: the session is already gone by the time
// the call runs, so the user has to restart the flow.
func NewUpstreamError(service string, cause error) *AppError {
	return &AppError{
		Code:        "E300",
		Message:     fmt.Sprintf("upstream error from %s", service),
		UserMessage: "El servicio de facturación no está disponible por ahora",
		Severity:    SeverityHigh,
		Retryable:   false,
		cause:       cause,
	}
}

// NewTransportError wraps a failed outbound notification. Transport errors
// are retryable at the messaging client level and swallowed above it.
func NewTransportError(cause error) *AppError {
	return &AppError{
		Code:        "E310",
		Message:     "failed to deliver outbound message",
		UserMessage: "",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        "E200",
		Message:     fmt.Sprintf("database error: %s", underlyingMsg),
		UserMessage: "Problema temporal, intenta más tarde",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        "E400",
		Message:     msg,
		UserMessage: "No es posible continuar la conversación en este punto",
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       nil,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        "E500",
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Demasiados mensajes. Intenta de nuevo en %d segundos", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}
