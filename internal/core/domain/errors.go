package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DomainError represents a cluster error with a structured error code.
//
// Codes have the form CS-<AREA>-<NNNN>. The area groups errors by how the
// caller must react: PROT errors are framing or schema violations and are
// never retried, PUBL errors are terminal channel failures, AGNT errors
// request an orderly shutdown.
type DomainError struct {
	Code    string // Error code (e.g., "CS-PROT-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsProtocolViolation reports whether err is a framing or schema error.
// Protocol violations abort the current load and must not be retried.
func IsProtocolViolation(err error) bool {
	return strings.HasPrefix(GetErrorCode(err), "CS-PROT-")
}

// ============================================================================
// Protocol Errors (PROT)
// ============================================================================

var (
	// ErrUnexpectedSchema indicates a message header carried a foreign schema id.
	ErrUnexpectedSchema = NewDomainError("CS-PROT-4001", "unexpected schema id")

	// ErrUnexpectedSnapshotType indicates a marker for a different snapshot stream.
	ErrUnexpectedSnapshotType = NewDomainError("CS-PROT-4002", "unexpected snapshot type")

	// ErrAlreadyInSnapshot indicates a BEGIN marker while a snapshot is open.
	ErrAlreadyInSnapshot = NewDomainError("CS-PROT-4003", "already in snapshot")

	// ErrMissingBeginSnapshot indicates snapshot content before any BEGIN marker.
	ErrMissingBeginSnapshot = NewDomainError("CS-PROT-4004", "missing begin snapshot")

	// ErrUnknownSnapshotMark indicates a marker whose mark is neither BEGIN nor END.
	ErrUnknownSnapshotMark = NewDomainError("CS-PROT-4005", "unknown snapshot mark")

	// ErrTruncatedMessage indicates a message shorter than its declared lengths.
	ErrTruncatedMessage = NewDomainError("CS-PROT-4006", "truncated message")
)

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrIncompleteSnapshot indicates the log segment ended before the END marker.
	ErrIncompleteSnapshot = NewDomainError("CS-SNAP-4220", "incomplete snapshot")

	// ErrSnapshotNotFound indicates no snapshot recording matched the request.
	ErrSnapshotNotFound = NewDomainError("CS-SNAP-4040", "snapshot not found")

	// ErrSessionTooLarge indicates an encoded session exceeds the channel's max payload.
	ErrSessionTooLarge = NewDomainError("CS-SNAP-4130", "session record exceeds max payload length")

	// ErrMessageTooLarge indicates an encoded message exceeds the channel's max payload.
	ErrMessageTooLarge = NewDomainError("CS-SNAP-4131", "message exceeds max payload length")

	// ErrIncompatibleAppVersion indicates a snapshot written by an incompatible application version.
	ErrIncompatibleAppVersion = NewDomainError("CS-SNAP-4090", "incompatible application version")

	// ErrEncryptionKeyRequired reports an encrypted snapshot opened without a key.
	ErrEncryptionKeyRequired = NewDomainError("CS-SNAP-4010", "snapshot is encrypted and no key is configured")
)

// ============================================================================
// Publication Errors (PUBL)
// ============================================================================

var (
	// ErrUnexpectedPublicationState indicates a terminal append channel failure.
	ErrUnexpectedPublicationState = NewDomainError("CS-PUBL-5030", "unexpected publication state")
)

// ============================================================================
// Agent Errors (AGNT)
// ============================================================================

var (
	// ErrAgentTerminated indicates the duty cycle was asked to stop mid-operation.
	ErrAgentTerminated = NewDomainError("CS-AGNT-4990", "agent terminated")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CS-ARG-1001", "invalid argument")

	// ErrSessionNotFound indicates the requested session is not registered.
	ErrSessionNotFound = NewDomainError("CS-ARG-4040", "session not found")

	// ErrSessionExists indicates a session id that is already registered.
	ErrSessionExists = NewDomainError("CS-ARG-4090", "session already exists")
)
