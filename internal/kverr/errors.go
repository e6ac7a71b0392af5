// Package kverr defines the error taxonomy shared by the store, cache,
// transaction log, replica, and coordinator, and the mapping from each
// error kind to the wire-level message string clients receive.
//
// Rather than sentinel integers, each failure is a *Error carrying a Kind;
// callers branch on Kind via errors.Is/errors.As instead of comparing
// magic numbers, and the wire layer turns a Kind into its protocol string
// with a single table lookup (see Kind.WireMessage).
package kverr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the categories from the design's
// error taxonomy: validation, lookup, resource, protocol, or transport.
type Kind int

const (
	// KindNone is the zero value; never attached to a real error.
	KindNone Kind = iota
	// KindKeyLen: key exceeds the configured maximum length.
	KindKeyLen
	// KindValLen: value exceeds the configured maximum length.
	KindValLen
	// KindNoKey: lookup/delete target does not exist.
	KindNoKey
	// KindOOM: allocation failure surfaced by a storage backend.
	KindOOM
	// KindFileAccess: the store or log directory could not be read.
	KindFileAccess
	// KindFileCreate: a new entry or log file could not be created.
	KindFileCreate
	// KindFilenameTooLong: a generated filename exceeds OS limits.
	KindFilenameTooLong
	// KindInvalidMsg: an unsupported or malformed log/wire message type.
	KindInvalidMsg
	// KindInvalidRequest: the wire codec could not parse a frame.
	KindInvalidRequest
	// KindNotImplemented: request type unsupported by this server role.
	KindNotImplemented
	// KindTimeout: an outbound connect/send/recv exceeded its deadline.
	KindTimeout
	// KindTransport: any other network failure talking to a peer.
	KindTransport
	// KindUnableToProcess: generic failure surfaced to a client (e.g. an
	// aborted 2PC transaction, or a resource error on the replica).
	KindUnableToProcess
)

// Error is the concrete error type returned by every package in this
// module. It always carries a Kind and optionally wraps an underlying
// cause (a disk I/O error, a network error, etc).
type Error struct {
	Cause error
	Kind  Kind
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind.WireMessage(), e.Cause)
	}
	return e.Kind.WireMessage()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, kverr.New(KindX)) match any *Error of the same
// Kind regardless of Cause, so callers can compare by kind without going
// through KindOf/Is below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New builds an *Error of the given kind with no underlying cause.
func New(kind Kind) error { return &Error{Kind: kind} }

// Wrap builds an *Error of the given kind wrapping cause. Only
// Wrap(KindNone, nil) returns nil; any other kind yields a non-nil *Error
// even when cause is nil.
func Wrap(kind Kind, cause error) error {
	if cause == nil && kind == KindNone {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// KindOf extracts the Kind from err, returning KindNone if err is nil or
// not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WireMessage returns the exact error string clients see on the wire, per
// the design's §6 table.
func (k Kind) WireMessage() string {
	switch k {
	case KindNone:
		return "SUCCESS"
	case KindNoKey:
		return "ERROR: NO KEY"
	case KindKeyLen:
		return "ERROR: IMPROPER KEY LENGTH"
	case KindValLen:
		return "ERROR: VALUE TOO LONG"
	case KindInvalidRequest, KindInvalidMsg:
		return "ERROR: INVALID REQUEST"
	case KindNotImplemented:
		return "ERROR: NOT IMPLEMENTED"
	case KindOOM, KindFileAccess, KindFileCreate, KindFilenameTooLong,
		KindTimeout, KindTransport, KindUnableToProcess:
		return "ERROR: UNABLE TO PROCESS REQUEST"
	default:
		return "ERROR: UNABLE TO PROCESS REQUEST"
	}
}

// Success is the empty-error wire message, used when a handler wants to
// send an explicit "SUCCESS" message string rather than omit it.
const Success = "SUCCESS"
