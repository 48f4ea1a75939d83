package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrWalletNotConnected is returned when a chain write is attempted without a wallet
	ErrWalletNotConnected = errors.New("wallet not connected")
	// ErrPollTimedOut is returned when the retry budget is exhausted without a proof
	ErrPollTimedOut = errors.New("timed out waiting for email proof")
	// ErrPollCancelled is returned when polling was stopped by the caller
	ErrPollCancelled = errors.New("proof polling cancelled")
	// ErrProofRejected is returned when the relayer permanently rejects a proof request
	ErrProofRejected = errors.New("proof request rejected by relayer")
)

// Error type identifiers
const (
	ErrorTypePrecondition  = "precondition_error"
	ErrorTypeRelayer       = "relayer_error"
	ErrorTypeChain         = "chain_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeStore         = "store_error"
)

// FlowError is the base error type for all flow errors
type FlowError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// PreconditionError is raised before any network call is made
type PreconditionError struct {
	*FlowError
	Field string `json:"field"`
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(field string, message string) *PreconditionError {
	return &PreconditionError{
		FlowError: &FlowError{
			Type:    ErrorTypePrecondition,
			Message: message,
		},
		Field: field,
	}
}

// RelayerError represents a failed relayer call (transport failure or non-2xx)
type RelayerError struct {
	*FlowError
	Operation  string `json:"operation"`
	StatusCode int    `json:"status_code,omitempty"` // 0 on transport failure
	Body       string `json:"body,omitempty"`
}

// NewRelayerError creates a new relayer error
func NewRelayerError(operation string, statusCode int, body string, cause error) *RelayerError {
	msg := fmt.Sprintf("relayer %s failed", operation)
	if statusCode != 0 {
		msg = fmt.Sprintf("relayer %s returned %d: %s", operation, statusCode, body)
	}
	return &RelayerError{
		FlowError: &FlowError{
			Type:    ErrorTypeRelayer,
			Message: msg,
			Cause:   cause,
		},
		Operation:  operation,
		StatusCode: statusCode,
		Body:       body,
	}
}

// Transient reports whether the failure may clear up on its own.
// Transport failures, 5xx and the throttling/timeout 4xx codes are transient.
func (e *RelayerError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooEarly,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// ChainError represents a failed contract read/write or receipt wait
type ChainError struct {
	*FlowError
	Operation string `json:"operation"`
}

// NewChainError creates a new chain error
func NewChainError(operation string, cause error) *ChainError {
	return &ChainError{
		FlowError: &FlowError{
			Type:    ErrorTypeChain,
			Message: fmt.Sprintf("chain operation %s failed", operation),
			Cause:   cause,
		},
		Operation: operation,
	}
}

// ConfigurationError represents configuration-related errors
type ConfigurationError struct {
	*FlowError
	Field string `json:"field"`
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(field string, message string) *ConfigurationError {
	return &ConfigurationError{
		FlowError: &FlowError{
			Type:    ErrorTypeConfiguration,
			Message: fmt.Sprintf("Configuration error in field '%s': %s", field, message),
		},
		Field: field,
	}
}
