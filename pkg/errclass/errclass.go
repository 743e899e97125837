// Package errclass provides the error taxonomy shared by the sync and purge
// engines. Every failure that reaches a report or a retry decision carries a
// Kind, so callers can distinguish errors worth retrying from errors that
// cannot succeed on a second attempt.
package errclass

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and reporting decisions.
type Kind string

const (
	// KindAuth marks an authentication/authorization rejection. Fatal: no
	// retry can succeed, and an in-flight auth failure stops further
	// admission of work.
	KindAuth Kind = "auth"

	// KindValidation marks a request the service rejected as malformed.
	// Fatal for the item, but other items may still succeed.
	KindValidation Kind = "validation"

	// KindTransient marks a network or service hiccup worth retrying.
	KindTransient Kind = "transient"

	// KindLocalIO marks a failure reading the local tree. Fatal for the
	// scan phase.
	KindLocalIO Kind = "local-io"

	// KindInventoryFetch marks a failure to assemble the remote inventory
	// after retries. Fatal for the invocation: an incomplete listing is
	// unsafe to diff against.
	KindInventoryFetch Kind = "inventory-fetch"

	// KindCancelled marks work that never ran because the run was stopped.
	KindCancelled Kind = "cancelled"
)

// Error is a classified error with the operation and path it belongs to.
type Error struct {
	// Op is the operation that failed, e.g. "upload", "delete", "list".
	Op string

	// Path is the remote or local path involved, if any.
	Path string

	// Kind drives retry and exit-status decisions.
	Kind Kind

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(op, path string, kind Kind, err error) *Error {
	return &Error{Op: op, Path: path, Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindTransient: everything the transport layer produces without an explicit
// classification is a network-level failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindAuth
}

// FromStatus classifies an HTTP response status for op on path. 2xx never
// reaches this function; callers pass only non-success statuses.
func FromStatus(op, path string, status int) *Error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(op, path, KindAuth, err)
	case status == http.StatusTooManyRequests:
		return New(op, path, KindTransient, err)
	case status >= 500:
		return New(op, path, KindTransient, err)
	case status >= 400:
		return New(op, path, KindValidation, err)
	default:
		return New(op, path, KindTransient, err)
	}
}

// FromTransport classifies an error returned by the HTTP client itself.
// Timeouts, connection resets and DNS hiccups are all transient; the request
// never produced a response to classify more precisely.
func FromTransport(op, path string, err error) *Error {
	var already *Error
	if errors.As(err, &already) {
		return already
	}
	return New(op, path, KindTransient, err)
}
