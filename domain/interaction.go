package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// InteractionType is the closed set of playlist interactions.
type InteractionType string

const (
	InteractionLike  InteractionType = "like"
	InteractionBoost InteractionType = "boost"
	InteractionVote  InteractionType = "vote"
	InteractionPin   InteractionType = "pin"
)

// ParseInteractionType validates a wire/storage value against the closed set.
func ParseInteractionType(s string) (InteractionType, error) {
	switch InteractionType(s) {
	case InteractionLike, InteractionBoost, InteractionVote, InteractionPin:
		return InteractionType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedInteractionType, s)
}

// PlaylistInteraction handles likes, boosts, votes and pins on a playlist.
// Ids are uuid v7, so creation order is recoverable from the id.
type PlaylistInteraction struct {
	Id         uuid.UUID
	ObjectURI  string
	Type       InteractionType
	IdentityId uuid.UUID
	PlaylistId uuid.UUID
	// Extra text value, the chosen option in the vote case
	Value string
	// When the activity was originally created (as opposed to when we
	// received it)
	Published    time.Time
	State        string
	StateChanged time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Interaction lifecycle states. New and fanned-out interactions count; an
// undone interaction is dead and waiting for its undo fan-out and purge.
const (
	InteractionStateNew             = "new"
	InteractionStateFannedOut       = "fanned_out"
	InteractionStateUndone          = "undone"
	InteractionStateUndoneFannedOut = "undone_fanned_out"
)

// ActiveInteractionStates are the states in which an interaction is live:
// visible in stats and blocking duplicates.
func ActiveInteractionStates() []string {
	return []string{InteractionStateNew, InteractionStateFannedOut}
}

// FanOutType distinguishes forward fan-out from undo fan-out.
type FanOutType string

const (
	FanOutInteraction     FanOutType = "interaction"
	FanOutUndoInteraction FanOutType = "undo_interaction"
)

// FanOut is one delivery record per (recipient, interaction, direction).
// Created once per recipient per fan-out event, consumed by the delivery
// worker and removed on success.
type FanOut struct {
	Id                   uuid.UUID
	Type                 FanOutType
	IdentityId           uuid.UUID // recipient
	SubjectPlaylistId    uuid.UUID
	SubjectInteractionId uuid.UUID
	Attempts             int
	NextRetryAt          time.Time
	CreatedAt            time.Time
}
