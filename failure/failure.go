// Package failure classifies faults raised while talking to the agent and
// content-detection services.
//
// Information Hiding:
// - Status-code, API-code and keyword tables hidden behind Classify
// - Message extraction heuristics hidden
// - Callers only see Kind, Retryable and the user-facing message/hint

package failure

import (
	"errors"
	"fmt"
)

// Kind is the taxonomy bucket a fault falls into.
type Kind string

const (
	KindConnectivity         Kind = "ConnectivityError"
	KindAuth                 Kind = "AuthError"
	KindPermission           Kind = "PermissionError"
	KindNotFound             Kind = "NotFoundError"
	KindRateLimit            Kind = "RateLimitError"
	KindService              Kind = "ServiceError"
	KindContentPolicy        Kind = "ContentPolicyError"
	KindToolTimeout          Kind = "ToolTimeoutError"
	KindStreamStall          Kind = "StreamStallError"
	KindStructuralValidation Kind = "StructuralValidationError"
	KindContentGateService   Kind = "ContentGateServiceError"
	KindCancelled            Kind = "CancelledError"
	KindInvalidInput         Kind = "InvalidInputError"
	KindQuota                Kind = "QuotaError"
	KindUnknown              Kind = "UnknownError"
)

// Classification is the verdict assigned to a fault before anything acts on it.
// HTTPStatus is 0 and APIErrorCode/Hint are empty when absent.
type Classification struct {
	Kind         Kind   `json:"kind"`
	Retryable    bool   `json:"retryable"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	APIErrorCode string `json:"api_error_code,omitempty"`
	UserMessage  string `json:"user_message"`
	Hint         string `json:"hint,omitempty"`
	Raw          string `json:"-"`
}

// ErrorType returns the coarse type label used by event consumers to style
// retryable and fatal errors differently.
func (c Classification) ErrorType() string {
	switch c.Kind {
	case KindRateLimit:
		return "rate_limit"
	case KindToolTimeout, KindStreamStall:
		return "timeout"
	case KindAuth, KindPermission:
		return "auth_error"
	case KindContentGateService:
		return "content_gate"
	case KindCancelled:
		return "cancelled"
	}
	if c.HTTPStatus != 0 {
		return fmt.Sprintf("http_%d", c.HTTPStatus)
	}
	return "unknown"
}

// Structured is implemented by errors that carry machine-readable fields from
// the remote service. StatusCode returns 0 and ErrorCode "" when unknown.
type Structured interface {
	error
	StatusCode() int
	ErrorCode() string
}

// Kinded is implemented by errors that already know their taxonomy bucket,
// such as stream supervision timeouts.
type Kinded interface {
	error
	FailureKind() Kind
}

// Sentinel errors shared across the pipeline.
var (
	ErrCancelled       = errors.New("run cancelled")
	ErrRunActive       = errors.New("a run is already active for this session")
	ErrSessionNotFound = errors.New("session not found")
	ErrPIIDetected     = errors.New("personal information detected in input")
)

// Error is a terminal stage failure carrying its full classification.
type Error struct {
	Stage          string
	Classification Classification
	Attempts       int
	Err            error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Classification.UserMessage
	}
	return fmt.Sprintf("%s: %v", e.Classification.UserMessage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StructuralError reports a draft that still fails structural validation after
// correction and regeneration.
type StructuralError struct {
	Issues []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("document failed structural validation (%d issues)", len(e.Issues))
}

// FailureKind implements Kinded.
func (e *StructuralError) FailureKind() Kind {
	return KindStructuralValidation
}

// As returns the Classification carried by err if it wraps an *Error.
func As(err error) (Classification, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Classification, true
	}
	return Classification{}, false
}
