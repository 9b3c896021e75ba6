package go_fvm

import (
	"errors"
	"fmt"
)

// Standard FVM Error Types
//
// Every error returned by the engine wraps exactly one of the sentinels below,
// so callers can use errors.Is() or CodeOf() to obtain the closed error kind.
// Operation context (which call, which freshness value id) is carried by
// *FvmError.

// ErrorCode is the closed error-kind enumeration reported by the engine.
type ErrorCode uint8

const (
	CodeSuccess ErrorCode = iota
	CodeFVNotAvailable
	CodeInitializeFailed
	CodeFvIdNotFound
	CodeNotInitialized
	CodeAlreadyInitialized
	CodeGeneralError
	CodeRngError
	CodeKeyNotFound
)

// Sentinel errors, one per non-success ErrorCode.
var (
	// ErrFVNotAvailable indicates no authentic freshness value exists and the
	// upstart grace period has expired.
	ErrFVNotAvailable = errors.New("fvm: freshness value not available")

	// ErrInitializeFailed indicates the engine could not be brought up.
	ErrInitializeFailed = errors.New("fvm: initialization failed")

	// ErrFvIdNotFound indicates the freshness value id is not configured, or is
	// configured with a type that does not support the requested operation.
	ErrFvIdNotFound = errors.New("fvm: freshness value id not found")

	// ErrNotInitialized indicates an operation was attempted before Init().
	ErrNotInitialized = errors.New("fvm: not initialized")

	// ErrAlreadyInitialized indicates Init() was called twice without Deinit().
	ErrAlreadyInitialized = errors.New("fvm: already initialized")

	// ErrGeneral covers protocol and invariant violations. The engine fails
	// closed: it rejects rather than guesses.
	ErrGeneral = errors.New("fvm: general error")

	// ErrRng indicates the random generator failed.
	ErrRng = errors.New("fvm: random generator failure")

	// ErrKeyNotFound indicates a configured key id is unknown to the
	// cryptographic service.
	ErrKeyNotFound = errors.New("fvm: key not found")
)

var codeSentinels = []struct {
	code ErrorCode
	err  error
}{
	{CodeFVNotAvailable, ErrFVNotAvailable},
	{CodeInitializeFailed, ErrInitializeFailed},
	{CodeFvIdNotFound, ErrFvIdNotFound},
	{CodeNotInitialized, ErrNotInitialized},
	{CodeAlreadyInitialized, ErrAlreadyInitialized},
	{CodeGeneralError, ErrGeneral},
	{CodeRngError, ErrRng},
	{CodeKeyNotFound, ErrKeyNotFound},
}

// CodeOf maps an error returned by this package to its ErrorCode.
// nil maps to CodeSuccess; errors not produced by this package map to
// CodeGeneralError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	for _, s := range codeSentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return CodeGeneralError
}

// String returns the name of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeFVNotAvailable:
		return "FVNotAvailable"
	case CodeInitializeFailed:
		return "InitializeFailed"
	case CodeFvIdNotFound:
		return "FvIdNotFound"
	case CodeNotInitialized:
		return "NotInitialized"
	case CodeAlreadyInitialized:
		return "AlreadyInitialized"
	case CodeGeneralError:
		return "GeneralError"
	case CodeRngError:
		return "RngError"
	case CodeKeyNotFound:
		return "KeyNotFound"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// FvmError is returned by engine operations. It names the operation and the
// freshness value id involved and wraps one of the sentinel errors.
type FvmError struct {
	Op   string           // e.g. "GetRxFreshness"
	FvID FreshnessValueId // zero when not applicable
	Err  error            // sentinel, possibly wrapping a cause
}

func (e *FvmError) Error() string {
	return fmt.Sprintf("fvm: %s (fv id %d): %v", e.Op, e.FvID, e.Err)
}

func (e *FvmError) Unwrap() error {
	return e.Err
}

// Code returns the ErrorCode of the wrapped sentinel.
func (e *FvmError) Code() ErrorCode {
	return CodeOf(e.Err)
}

func newError(op string, id FreshnessValueId, err error) *FvmError {
	return &FvmError{Op: op, FvID: id, Err: err}
}

// causeError attaches an underlying cause to a sentinel while keeping both
// visible to errors.Is.
func causeError(op string, id FreshnessValueId, sentinel, cause error) *FvmError {
	if cause == nil {
		return newError(op, id, sentinel)
	}
	return newError(op, id, fmt.Errorf("%w: %w", sentinel, cause))
}

// Temporary reports whether retrying the operation may succeed. Missing
// keys can be provisioned late and the random generator or the transport may
// recover; configuration and usage errors are permanent.
func (e *FvmError) Temporary() bool {
	switch e.Code() {
	case CodeKeyNotFound, CodeRngError, CodeGeneralError, CodeFVNotAvailable:
		return true
	default:
		return false
	}
}
