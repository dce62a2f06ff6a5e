// Package engine provides the reconciliation core of the Gantry orchestrator.
// It implements the pipeline: Catalog -> Closure -> Plan -> Graph -> Drift.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for reporting and
// propagation logic.
type ErrorClass string

const (
	// ErrorClassWarning indicates a configuration smell that does not abort
	// the operation. Example: a declared dependency cycle.
	ErrorClassWarning ErrorClass = "warning"

	// ErrorClassTransient indicates a boundary failure that may succeed on a
	// later invocation. Example: the container runtime query failed.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: malformed catalog, unknown resource reference.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ReconcileError represents a classified error with resource context.
type ReconcileError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// ResourceType is the kind of resource that caused the error
	// (pack, extension, asset_bundle, service, model, workflow).
	ResourceType string `json:"resource_type,omitempty"`

	// ResourceName is the name of the resource that caused the error.
	ResourceName string `json:"resource_name,omitempty"`

	// Chain is the explanation chain showing how the resource became
	// relevant, when one is available.
	Chain string `json:"chain,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	if e.ResourceType != "" && e.ResourceName != "" {
		fmt.Fprintf(&sb, " (%s:%s)", e.ResourceType, e.ResourceName)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}
	if e.Chain != "" {
		fmt.Fprintf(&sb, " [via %s]", e.Chain)
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *ReconcileError) Is(target error) bool {
	t, ok := target.(*ReconcileError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewWarning creates a new warning-class error.
func NewWarning(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassWarning, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithCode adds an error code.
func (e *ReconcileError) WithCode(code string) *ReconcileError {
	e.Code = code
	return e
}

// WithResource adds resource context.
func (e *ReconcileError) WithResource(resourceType, resourceName string) *ReconcileError {
	e.ResourceType = resourceType
	e.ResourceName = resourceName
	return e
}

// WithChain attaches the explanation chain showing how the resource became
// relevant.
func (e *ReconcileError) WithChain(chain string) *ReconcileError {
	e.Chain = chain
	return e
}

// IsWarning returns true if the error is classified as a warning.
func IsWarning(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassWarning
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Common error codes.
const (
	ErrCodeUnknownResource        = "UNKNOWN_RESOURCE"
	ErrCodeCatalogMalformed       = "CATALOG_MALFORMED"
	ErrCodeCycleDetected          = "CYCLE_DETECTED"
	ErrCodeRenderNonDeterministic = "RENDER_NON_DETERMINISTIC"
	ErrCodeDriftQueryFailed       = "DRIFT_QUERY_FAILED"
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// NewUnknownResource creates the canonical error for a name that is absent
// from its catalog.
func NewUnknownResource(resourceType, resourceName string) *ReconcileError {
	return NewPermanentError(
		fmt.Sprintf("%s %q is not defined in the catalog", resourceType, resourceName), nil).
		WithCode(ErrCodeUnknownResource).
		WithResource(resourceType, resourceName)
}

// ErrorList collects per-resource errors so an operator sees the full list of
// problems in one pass instead of failing on the first occurrence.
type ErrorList struct {
	errs []*ReconcileError
}

// Append adds an error to the list. Nil errors are ignored.
func (l *ErrorList) Append(err *ReconcileError) {
	if err != nil {
		l.errs = append(l.errs, err)
	}
}

// Errors returns the collected errors.
func (l *ErrorList) Errors() []*ReconcileError {
	return l.errs
}

// Empty returns true if no errors were collected.
func (l *ErrorList) Empty() bool {
	return len(l.errs) == 0
}

// Err returns the list as a single error, or nil when it holds nothing
// fatal. Warnings alone do not make the list an error.
func (l *ErrorList) Err() error {
	for _, e := range l.errs {
		if e.Class != ErrorClassWarning {
			return l
		}
	}
	return nil
}

// Error implements the error interface.
func (l *ErrorList) Error() string {
	msgs := make([]string, 0, len(l.errs))
	for _, e := range l.errs {
		msgs = append(msgs, e.Error())
	}
	return fmt.Sprintf("%d problem(s): %s", len(l.errs), strings.Join(msgs, "; "))
}

// Warnings returns only the warning-class entries.
func (l *ErrorList) Warnings() []*ReconcileError {
	var out []*ReconcileError
	for _, e := range l.errs {
		if e.Class == ErrorClassWarning {
			out = append(out, e)
		}
	}
	return out
}
