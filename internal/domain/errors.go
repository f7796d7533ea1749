package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoRollbackTarget indicates that the deployment history holds
	// fewer than two entries, so there is no previous version to return to.
	ErrNoRollbackTarget = errors.New("no rollback target")

	// ErrDeploymentInFlight indicates that another deployment is already
	// running. Deployments are rejected, not queued.
	ErrDeploymentInFlight = errors.New("deployment already in flight")

	// ErrMonitorActive indicates that a safety monitoring session is
	// already running.
	ErrMonitorActive = errors.New("monitoring session already active")
)

// FailureKind classifies a deployment failure. The set is closed so that
// policy decisions (abort vs. warn, rollback vs. surface) can be made
// exhaustively.
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureResource    FailureKind = "resource"
	FailureBackup      FailureKind = "backup"
	FailureMigration   FailureKind = "migration"
	FailureHook        FailureKind = "hook"
	FailureHealthCheck FailureKind = "health_check"
	FailureRollback    FailureKind = "rollback"
	FailureInternal    FailureKind = "internal"
)

// Failure is a structured, user-visible deployment error. Message is the
// human summary, SuggestedActions are remediation hints, and Context carries
// machine-readable detail (failing store, hook name, versions involved).
type Failure struct {
	Kind             FailureKind
	Message          string
	SuggestedActions []string
	Context          map[string]any

	cause error
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// NewFailure creates a Failure of the given kind.
func NewFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

// WrapFailure creates a Failure wrapping an underlying cause. A nil cause is
// allowed and behaves like NewFailure.
func WrapFailure(kind FailureKind, msg string, cause error) *Failure {
	return &Failure{Kind: kind, Message: msg, cause: cause}
}

// WithContext attaches a structured detail field and returns the failure for
// chaining.
func (f *Failure) WithContext(key string, value any) *Failure {
	if f.Context == nil {
		f.Context = make(map[string]any)
	}
	f.Context[key] = value
	return f
}

// WithSuggestion appends a remediation hint.
func (f *Failure) WithSuggestion(s string) *Failure {
	f.SuggestedActions = append(f.SuggestedActions, s)
	return f
}

// KindOf extracts the failure kind from err. Errors outside the taxonomy are
// reported as FailureInternal so that callers always receive a classified,
// loggable value.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureInternal
}

// AsFailure converts err into a *Failure, classifying unrecognized errors as
// FailureInternal. Returns nil for a nil error.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return WrapFailure(FailureInternal, "unexpected error", err)
}
