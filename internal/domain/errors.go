package domain

import "errors"

// Error taxonomy for the core. Callers switch on these with errors.Is
// rather than parsing message strings; the ingest gateway maps them to
// stable external status codes and never leaks store internals.
var (
	// ErrDuplicate names the case where a client_id already has a stored
	// Passage. Not a failure: callers treat it as success. Store.InsertPassage
	// reports this case as the Duplicate outcome with a nil error rather
	// than returning ErrDuplicate.
	ErrDuplicate = errors.New("passage: duplicate client_id")

	// ErrNotFound is returned when a lookup finds nothing.
	ErrNotFound = errors.New("passage: not found")

	// ErrMalformed means the input failed validation before it ever
	// reached the store (missing/out-of-enum fields, bad timestamps).
	ErrMalformed = errors.New("passage: malformed input")

	// ErrFutureTimestamp is a specific ErrMalformed cause: recorded_at is
	// further in the future than clock_skew_tolerance allows.
	ErrFutureTimestamp = errors.New("passage: recorded_at too far in the future")

	// ErrPolicyRefused means the caller is not authenticated, or is
	// authenticated but not authorized for the requested scope.
	ErrPolicyRefused = errors.New("passage: refused by access policy")

	// ErrConflictLost means a concurrent matcher already claimed the
	// candidate this matcher wanted; this passage simply stays unmatched
	// for now and a later passage (or scan) may pick it up.
	ErrConflictLost = errors.New("passage: candidate claimed by a concurrent matcher")

	// ErrAmbiguousSender and ErrUnknownSender are distinct SMS intake
	// failures: zero or more than one active ranger matched the phone
	// suffix in the message.
	ErrAmbiguousSender = errors.New("sms: ambiguous ranger sender")
	ErrUnknownSender   = errors.New("sms: unknown ranger sender")
)

// CodecErrorKind distinguishes SMS V1 decode failures per spec §4.1.
type CodecErrorKind int

const (
	CodecErrNone CodecErrorKind = iota
	CodecErrMalformed
	CodecErrUnsupportedVersion
	CodecErrUnknownVehicleCode
	CodecErrInvalidTimestamp
)

// CodecError wraps a decode failure with its kind so callers can branch on
// it without string matching, while still satisfying the error interface.
type CodecError struct {
	Kind CodecErrorKind
	Msg  string
}

func (e *CodecError) Error() string { return e.Msg }

func newCodecError(kind CodecErrorKind, msg string) *CodecError {
	return &CodecError{Kind: kind, Msg: msg}
}
