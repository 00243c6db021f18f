package engine

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindTemporal      Kind = "temporal"
	KindCapacity      Kind = "capacity"
	KindArithmetic    Kind = "arithmetic"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindHandoff       Kind = "handoff"
)

// Error is a rejection by the voting core. Sentinels are compared with
// errors.Is; a wrapped cause stays reachable through Unwrap.
type Error struct {
	Code    string
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same code, so a wrapped copy still equals
// its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) wrap(cause error) error {
	return &Error{Code: e.Code, Kind: e.Kind, Message: e.Message, cause: cause}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

var (
	ErrInvalidThreshold       = newError(KindValidation, "invalid_threshold", "threshold must be 1-100")
	ErrInvalidActionHash      = newError(KindValidation, "invalid_action_hash", "action hash cannot be zero")
	ErrInvalidVoterCommitment = newError(KindValidation, "invalid_voter_commitment", "voter commitment cannot be zero")
	ErrInvalidKey             = newError(KindValidation, "invalid_key", "record key does not match expected derivation")

	ErrDuplicateAction       = newError(KindConflict, "duplicate_action", "action already exists")
	ErrDuplicateVote         = newError(KindConflict, "duplicate_vote", "voter already voted on this action")
	ErrActionAlreadyExecuted = newError(KindConflict, "action_already_executed", "action already executed")

	ErrVotingEnded    = newError(KindTemporal, "voting_ended", "voting has ended")
	ErrVotingNotEnded = newError(KindTemporal, "voting_not_ended", "voting has not ended yet")

	ErrMaxVotesReached = newError(KindCapacity, "max_votes_reached", "max votes reached for this action")
	ErrQuorumNotMet    = newError(KindCapacity, "quorum_not_met", "quorum not met")

	ErrClockOverflow   = newError(KindArithmetic, "clock_overflow", "tick calculation overflow")
	ErrCounterOverflow = newError(KindArithmetic, "counter_overflow", "vote count overflow")

	ErrUnauthorized = newError(KindAuthorization, "unauthorized", "only the creator may cancel this action")

	ErrActionNotFound = newError(KindNotFound, "action_not_found", "action not found")

	ErrHandoffFailed = newError(KindHandoff, "handoff_failed", "durable handoff failed")
)

// AsError returns the core *Error inside err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err; infrastructure failures have no kind.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ""
}
