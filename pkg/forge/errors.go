// Package forge abstracts the code-forge service: clone, branch, commit,
// push, fork, pull requests, labels, and rate-budget queries. The core
// never sees raw HTTP details; every failure is classified into an
// ErrorKind the scheduler can map onto its state machine.
package forge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies gateway failures.
type ErrorKind int

// Gateway error kinds.
const (
	// KindTransient marks retriable network or server hiccups.
	KindTransient ErrorKind = iota

	// KindRateLimited marks an exhausted API budget.
	KindRateLimited

	// KindNotFound marks a missing repository or pull request.
	KindNotFound

	// KindArchived marks an archived (read-only) repository.
	KindArchived

	// KindValidationFailed marks a rejected request, typically a
	// duplicate pull request for the same head branch.
	KindValidationFailed

	// KindAuthFailed marks bad or insufficient credentials.
	KindAuthFailed
)

// String implements fmt.Stringer for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindArchived:
		return "archived"
	case KindValidationFailed:
		return "validation_failed"
	case KindAuthFailed:
		return "auth_failed"
	default:
		return "transient"
	}
}

// Error is the only error type the gateway surfaces.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("forge %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from a gateway error; non-gateway errors are
// classified transient.
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
