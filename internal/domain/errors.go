package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrDisabled      = fmt.Errorf("disabled")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Orchestration errors.
var (
	ErrAgentNotRegistered = fmt.Errorf("agent not registered")
	ErrDeliveryFailed     = fmt.Errorf("message delivery failed")
	ErrDeliveryTimeout    = fmt.Errorf("message delivery: %w", ErrTimeout)
	ErrUnsupportedAgent   = fmt.Errorf("agent does not support A2A communication")
	ErrProtocolStopped    = fmt.Errorf("protocol is not running")
	ErrCircuitOpen        = fmt.Errorf("circuit breaker open")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrEmptyCart          = fmt.Errorf("cart is empty")
	ErrProductNotFound    = fmt.Errorf("product not found")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Protocol.SendRequest")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "a2a", "catalog"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTimeout reports whether err is any kind of timeout, including delivery timeouts.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeAgentNotRegistered ErrorCode = "AGENT_NOT_REGISTERED"
	CodeDeliveryFailed     ErrorCode = "DELIVERY_FAILED"
	CodeDeliveryTimeout    ErrorCode = "DELIVERY_TIMEOUT"
	CodeUnsupportedAgent   ErrorCode = "UNSUPPORTED_AGENT"
	CodeProtocolStopped    ErrorCode = "PROTOCOL_STOPPED"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeEmptyCart          ErrorCode = "EMPTY_CART"
	CodeProductNotFound    ErrorCode = "PRODUCT_NOT_FOUND"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeCatalogTimeout  ErrorCode = "CATALOG_TIMEOUT"
	CodeCatalogUpstream ErrorCode = "CATALOG_UPSTREAM"
	CodeRemoteUpstream  ErrorCode = "REMOTE_AGENT_UPSTREAM"

	// Category error codes: fallback codes when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeDuplicate     ErrorCode = "DUPLICATE"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeDisabled      ErrorCode = "DISABLED"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrDisabled:      CodeDisabled,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrAgentNotRegistered: CodeAgentNotRegistered,
	ErrDeliveryFailed:     CodeDeliveryFailed,
	ErrDeliveryTimeout:    CodeDeliveryTimeout,
	ErrUnsupportedAgent:   CodeUnsupportedAgent,
	ErrProtocolStopped:    CodeProtocolStopped,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrConfigLoad:         CodeConfigLoad,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrEmptyCart:          CodeEmptyCart,
	ErrProductNotFound:    CodeProductNotFound,
}

// specificity lists sentinels in the order ErrorCodeOf walks them, so that a
// wrapped ErrDeliveryTimeout resolves to DELIVERY_TIMEOUT and not TIMEOUT.
var specificity = []error{
	ErrDeliveryTimeout,
	ErrAgentNotRegistered,
	ErrUnsupportedAgent,
	ErrCircuitOpen,
	ErrDeliveryFailed,
	ErrProtocolStopped,
	ErrConfigLoad,
	ErrSessionNotFound,
	ErrEmptyCart,
	ErrProductNotFound,
	ErrNotFound,
	ErrDuplicate,
	ErrTimeout,
	ErrDisabled,
	ErrInvalidInput,
	ErrProviderError,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrTimeout: {
		"catalog": CodeCatalogTimeout,
	},
	ErrProviderError: {
		"catalog":     CodeCatalogUpstream,
		"remoteagent": CodeRemoteUpstream,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range specificity {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
