package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

func TestStatorTableWhitelist(t *testing.T) {
	database := setupTestDB(t)

	if _, err := database.ReadDueInstances("identities", "new", time.Now(), 10); err == nil {
		t.Errorf("Non-stator tables must be rejected")
	}
	if _, err := database.TransitionCAS("identities; DROP TABLE identities", "x", "a", "b"); err == nil {
		t.Errorf("Unknown table names must be rejected")
	}
}

func TestClaimAttemptSingleWinner(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	actor := makeIdentity(t, database, "actor", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateNew)

	cutoff := time.Now()
	claimed, err := database.ClaimAttempt("playlist_interactions", interaction.Id.String(), domain.InteractionStateNew, cutoff)
	if err != nil {
		t.Fatalf("ClaimAttempt failed: %v", err)
	}
	if !claimed {
		t.Fatalf("First claim should succeed")
	}

	// The attempt timestamp is now fresh, a second claim with the same
	// cutoff must lose
	claimed, err = database.ClaimAttempt("playlist_interactions", interaction.Id.String(), domain.InteractionStateNew, cutoff)
	if err != nil {
		t.Fatalf("ClaimAttempt failed: %v", err)
	}
	if claimed {
		t.Errorf("Second claim within the try interval should fail")
	}
}

func TestTransitionCAS(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	actor := makeIdentity(t, database, "actor", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateNew)

	moved, err := database.TransitionCAS("playlist_interactions", interaction.Id.String(),
		domain.InteractionStateNew, domain.InteractionStateFannedOut)
	if err != nil {
		t.Fatalf("TransitionCAS failed: %v", err)
	}
	if !moved {
		t.Fatalf("Expected transition to succeed")
	}

	// Losing CAS observes the new state and no-ops
	moved, err = database.TransitionCAS("playlist_interactions", interaction.Id.String(),
		domain.InteractionStateNew, domain.InteractionStateFannedOut)
	if err != nil {
		t.Fatalf("TransitionCAS failed: %v", err)
	}
	if moved {
		t.Errorf("Stale CAS must not move the row")
	}

	state, err := database.ReadInstanceState("playlist_interactions", interaction.Id.String())
	if err != nil {
		t.Fatalf("ReadInstanceState failed: %v", err)
	}
	if state != domain.InteractionStateFannedOut {
		t.Errorf("Expected fanned_out, got %s", state)
	}
}

func TestTransitionWithFanOutsAtomic(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	actor := makeIdentity(t, database, "actor", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionBoost, actor, playlist, domain.InteractionStateNew)

	fanOuts := []domain.FanOut{
		{
			Id:                   uuid.New(),
			Type:                 domain.FanOutInteraction,
			IdentityId:           author.Id,
			SubjectPlaylistId:    playlist.Id,
			SubjectInteractionId: interaction.Id,
			NextRetryAt:          time.Now(),
			CreatedAt:            time.Now(),
		},
	}
	if err := database.TransitionWithFanOuts("playlist_interactions", interaction.Id.String(),
		domain.InteractionStateNew, domain.InteractionStateFannedOut, fanOuts); err != nil {
		t.Fatalf("TransitionWithFanOuts failed: %v", err)
	}

	count, _ := database.CountFanOutsByInteraction(interaction.Id)
	if count != 1 {
		t.Errorf("Expected 1 fan-out, got %d", count)
	}

	// A second dispatch from the stale state must fail and create nothing
	err := database.TransitionWithFanOuts("playlist_interactions", interaction.Id.String(),
		domain.InteractionStateNew, domain.InteractionStateFannedOut, fanOuts)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	count, _ = database.CountFanOutsByInteraction(interaction.Id)
	if count != 1 {
		t.Errorf("Failed transition must not materialize fan-outs, got %d", count)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	actor := makeIdentity(t, database, "actor", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateUndoneFannedOut)

	purged, err := database.PurgeOlderThan("playlist_interactions", domain.InteractionStateUndoneFannedOut, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if purged != 0 {
		t.Errorf("Fresh rows must survive the sweep, purged %d", purged)
	}

	purged, err = database.PurgeOlderThan("playlist_interactions", domain.InteractionStateUndoneFannedOut, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeOlderThan failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Expected 1 purged row, got %d", purged)
	}

	err, _ = database.ReadInteractionById(interaction.Id)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Purged interaction should be gone, got %v", err)
	}
}

func TestReadDueInstancesSkipsFreshAttempts(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	actor := makeIdentity(t, database, "actor", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateNew)

	cutoff := time.Now()
	due, err := database.ReadDueInstances("playlist_interactions", domain.InteractionStateNew, cutoff, 10)
	if err != nil {
		t.Fatalf("ReadDueInstances failed: %v", err)
	}
	if len(due) != 1 || due[0].Id != interaction.Id.String() {
		t.Fatalf("Expected the new interaction to be due, got %+v", due)
	}

	if _, err := database.ClaimAttempt("playlist_interactions", interaction.Id.String(), domain.InteractionStateNew, cutoff); err != nil {
		t.Fatalf("ClaimAttempt failed: %v", err)
	}

	due, err = database.ReadDueInstances("playlist_interactions", domain.InteractionStateNew, cutoff, 10)
	if err != nil {
		t.Fatalf("ReadDueInstances failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("Freshly attempted rows must not be due, got %d", len(due))
	}
}
