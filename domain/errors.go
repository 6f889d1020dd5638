package domain

import "errors"

// Error taxonomy for the federation core. Callers match with errors.Is.
var (
	// ErrNotFound marks an absent interaction/playlist/identity. Callers
	// treat it as a soft no-op, never a retry.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition marks a state graph violation.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPollExpired rejects votes on a poll past its end time.
	ErrPollExpired = errors.New("the poll has already ended")

	// ErrDuplicateVote rejects a second vote on a single-choice poll.
	ErrDuplicateVote = errors.New("already voted on this poll")

	// ErrActorMismatch rejects an undo whose actor does not match the
	// original interaction's actor.
	ErrActorMismatch = errors.New("actor mismatch")

	// ErrUnsupportedInteractionType marks an interaction type outside the
	// closed set. Unreachable for values built via ParseInteractionType.
	ErrUnsupportedInteractionType = errors.New("unsupported interaction type")
)
