package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/domain"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	return database
}

func makeIdentity(t *testing.T, database *DB, username string, local bool, sharedInbox string) *domain.Identity {
	t.Helper()
	identity := &domain.Identity{
		Id:             uuid.New(),
		Username:       username,
		Domain:         "example.com",
		ActorURI:       "https://example.com/users/" + username,
		Local:          local,
		InboxURI:       "https://example.com/users/" + username + "/inbox",
		SharedInboxURI: sharedInbox,
		CreatedAt:      time.Now(),
		LastFetchedAt:  time.Now(),
	}
	if err := database.CreateIdentity(identity); err != nil {
		t.Fatalf("Failed to create identity %s: %v", username, err)
	}
	return identity
}

func makePlaylist(t *testing.T, database *DB, author *domain.Identity, local bool) *domain.Playlist {
	t.Helper()
	playlist := &domain.Playlist{
		Id:           uuid.New(),
		AuthorId:     author.Id,
		Name:         "test playlist",
		Local:        local,
		Public:       true,
		State:        domain.PlaylistStateOutdated,
		StateChanged: time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	playlist.ObjectURI = "https://example.com/playlists/" + playlist.Id.String()
	if err := database.CreatePlaylist(playlist); err != nil {
		t.Fatalf("Failed to create playlist: %v", err)
	}
	return playlist
}

func makeInteraction(t *testing.T, database *DB, interactionType domain.InteractionType, identity *domain.Identity, playlist *domain.Playlist, state string) *domain.PlaylistInteraction {
	t.Helper()
	now := time.Now()
	interaction := &domain.PlaylistInteraction{
		Id:           uuid.New(),
		Type:         interactionType,
		IdentityId:   identity.Id,
		PlaylistId:   playlist.Id,
		Published:    now,
		State:        state,
		StateChanged: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	interaction.ObjectURI = identity.ActorURI + "#" + string(interactionType) + "s/" + interaction.Id.String()
	if err := database.CreateInteraction(interaction); err != nil {
		t.Fatalf("Failed to create interaction: %v", err)
	}
	return interaction
}

func TestIdentityRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	created := makeIdentity(t, database, "alice", true, "")

	err, read := database.ReadIdentityByActorURI(created.ActorURI)
	if err != nil {
		t.Fatalf("ReadIdentityByActorURI failed: %v", err)
	}
	if read.Id != created.Id || read.Username != "alice" || !read.Local {
		t.Errorf("Read identity does not match created one: %+v", read)
	}

	err, read = database.ReadIdentityByUsername("alice")
	if err != nil {
		t.Fatalf("ReadIdentityByUsername failed: %v", err)
	}
	if read.Id != created.Id {
		t.Errorf("Expected identity %s, got %s", created.Id, read.Id)
	}

	err, _ = database.ReadIdentityByUsername("nobody")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown username, got %v", err)
	}
}

func TestReadIdentityByUsernameIgnoresRemote(t *testing.T) {
	database := setupTestDB(t)
	makeIdentity(t, database, "bob", false, "")

	err, _ := database.ReadIdentityByUsername("bob")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Remote identities must not resolve by bare username, got %v", err)
	}
}

func TestFollowerIdentitiesBoostFilter(t *testing.T) {
	database := setupTestDB(t)
	actor := makeIdentity(t, database, "actor", true, "")
	follower1 := makeIdentity(t, database, "f1", true, "")
	follower2 := makeIdentity(t, database, "f2", true, "")
	pending := makeIdentity(t, database, "f3", true, "")

	follows := []*domain.Follow{
		{Id: uuid.New(), SourceId: follower1.Id, TargetId: actor.Id, Boosts: true, Accepted: true, CreatedAt: time.Now()},
		{Id: uuid.New(), SourceId: follower2.Id, TargetId: actor.Id, Boosts: false, Accepted: true, CreatedAt: time.Now()},
		{Id: uuid.New(), SourceId: pending.Id, TargetId: actor.Id, Boosts: true, Accepted: false, CreatedAt: time.Now()},
	}
	for _, follow := range follows {
		if err := database.CreateFollow(follow); err != nil {
			t.Fatalf("Failed to create follow: %v", err)
		}
	}

	err, all := database.ReadFollowerIdentities(actor.Id, false)
	if err != nil {
		t.Fatalf("ReadFollowerIdentities failed: %v", err)
	}
	if len(*all) != 2 {
		t.Errorf("Expected 2 accepted followers, got %d", len(*all))
	}

	err, boosting := database.ReadFollowerIdentities(actor.Id, true)
	if err != nil {
		t.Fatalf("ReadFollowerIdentities(boostsOnly) failed: %v", err)
	}
	if len(*boosting) != 1 || (*boosting)[0].Id != follower1.Id {
		t.Errorf("Expected only follower1 with boosts=true, got %+v", *boosting)
	}
}

func TestBlockedTargetIdsExcludesMutes(t *testing.T) {
	database := setupTestDB(t)
	actor := makeIdentity(t, database, "actor", true, "")
	blockedId := makeIdentity(t, database, "blocked", true, "")
	mutedId := makeIdentity(t, database, "muted", true, "")

	blocks := []*domain.Block{
		{Id: uuid.New(), SourceId: actor.Id, TargetId: blockedId.Id, Mute: false, Active: true, CreatedAt: time.Now()},
		{Id: uuid.New(), SourceId: actor.Id, TargetId: mutedId.Id, Mute: true, Active: true, CreatedAt: time.Now()},
	}
	for _, block := range blocks {
		if err := database.CreateBlock(block); err != nil {
			t.Fatalf("Failed to create block: %v", err)
		}
	}

	err, blocked := database.ReadBlockedTargetIds(actor.Id)
	if err != nil {
		t.Fatalf("ReadBlockedTargetIds failed: %v", err)
	}
	if !blocked[blockedId.Id] {
		t.Errorf("Hard block missing from blocked set")
	}
	if blocked[mutedId.Id] {
		t.Errorf("Mute must not remove a fan-out target")
	}
}

func TestPlaylistTypeDataRoundTrip(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	playlist := makePlaylist(t, database, author, true)

	typeData := &domain.QuestionData{
		Type: "Question",
		Mode: domain.PollModeOneOf,
		Options: []domain.QuestionOption{
			{Name: "A", Type: "Note", Votes: 2},
			{Name: "B", Type: "Note", Votes: 0},
		},
		VoterCount: 2,
	}
	if err := database.UpdatePlaylistTypeData(playlist.Id, typeData); err != nil {
		t.Fatalf("UpdatePlaylistTypeData failed: %v", err)
	}

	err, read := database.ReadPlaylistById(playlist.Id)
	if err != nil {
		t.Fatalf("ReadPlaylistById failed: %v", err)
	}
	if read.TypeData == nil || len(read.TypeData.Options) != 2 {
		t.Fatalf("Type data did not survive the round trip: %+v", read.TypeData)
	}
	if read.TypeData.Options[0].Votes != 2 || read.TypeData.VoterCount != 2 {
		t.Errorf("Tallies corrupted: %+v", read.TypeData)
	}
}

func TestActiveInteractionExcludesUndone(t *testing.T) {
	database := setupTestDB(t)
	actor := makeIdentity(t, database, "actor", true, "")
	author := makeIdentity(t, database, "author", true, "")
	playlist := makePlaylist(t, database, author, true)

	makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateUndoneFannedOut)

	err, _ := database.ReadActiveInteraction(domain.InteractionLike, actor.Id, playlist.Id)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Undone interactions must not count as active, got %v", err)
	}

	live := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateFannedOut)
	err, found := database.ReadActiveInteraction(domain.InteractionLike, actor.Id, playlist.Id)
	if err != nil {
		t.Fatalf("ReadActiveInteraction failed: %v", err)
	}
	if found.Id != live.Id {
		t.Errorf("Expected interaction %s, got %s", live.Id, found.Id)
	}
}

func TestVoteCounts(t *testing.T) {
	database := setupTestDB(t)
	author := makeIdentity(t, database, "author", true, "")
	voter1 := makeIdentity(t, database, "v1", true, "")
	voter2 := makeIdentity(t, database, "v2", true, "")
	playlist := makePlaylist(t, database, author, true)

	for _, vote := range []struct {
		voter *domain.Identity
		value string
	}{
		{voter1, "A"},
		{voter2, "A"},
		{voter2, "B"},
	} {
		now := time.Now()
		interaction := &domain.PlaylistInteraction{
			Id:           uuid.New(),
			Type:         domain.InteractionVote,
			IdentityId:   vote.voter.Id,
			PlaylistId:   playlist.Id,
			Value:        vote.value,
			Published:    now,
			State:        domain.InteractionStateNew,
			StateChanged: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := database.CreateInteraction(interaction); err != nil {
			t.Fatalf("Failed to create vote: %v", err)
		}
	}

	counts, err := database.CountVotesByValue(playlist.Id)
	if err != nil {
		t.Fatalf("CountVotesByValue failed: %v", err)
	}
	if counts["A"] != 2 || counts["B"] != 1 {
		t.Errorf("Unexpected tallies: %v", counts)
	}

	voters, err := database.CountDistinctVoters(playlist.Id)
	if err != nil {
		t.Fatalf("CountDistinctVoters failed: %v", err)
	}
	if voters != 2 {
		t.Errorf("Expected 2 distinct voters, got %d", voters)
	}

	voted, err := database.HasActiveVote(voter1.Id, playlist.Id)
	if err != nil {
		t.Fatalf("HasActiveVote failed: %v", err)
	}
	if !voted {
		t.Errorf("voter1 should have an active vote")
	}
}

func TestFanOutQueue(t *testing.T) {
	database := setupTestDB(t)
	actor := makeIdentity(t, database, "actor", true, "")
	author := makeIdentity(t, database, "author", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionBoost, actor, playlist, domain.InteractionStateFannedOut)

	fanOut := &domain.FanOut{
		Id:                   uuid.New(),
		Type:                 domain.FanOutInteraction,
		IdentityId:           author.Id,
		SubjectPlaylistId:    playlist.Id,
		SubjectInteractionId: interaction.Id,
		NextRetryAt:          time.Now().Add(-time.Minute),
		CreatedAt:            time.Now(),
	}
	if err := database.CreateFanOut(fanOut); err != nil {
		t.Fatalf("CreateFanOut failed: %v", err)
	}

	err, pending := database.ReadPendingFanOuts(time.Now(), 10)
	if err != nil {
		t.Fatalf("ReadPendingFanOuts failed: %v", err)
	}
	if len(*pending) != 1 {
		t.Fatalf("Expected 1 pending fan-out, got %d", len(*pending))
	}

	// Push the retry into the future, it should drop out of the queue
	if err := database.UpdateFanOutAttempt(fanOut.Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("UpdateFanOutAttempt failed: %v", err)
	}
	err, pending = database.ReadPendingFanOuts(time.Now(), 10)
	if err != nil {
		t.Fatalf("ReadPendingFanOuts failed: %v", err)
	}
	if len(*pending) != 0 {
		t.Errorf("Expected no due fan-outs after backoff, got %d", len(*pending))
	}

	count, err := database.CountFanOutsByInteraction(interaction.Id)
	if err != nil || count != 1 {
		t.Errorf("Expected 1 outstanding fan-out, got %d (err %v)", count, err)
	}

	if err := database.DeleteFanOutsByInteraction(interaction.Id); err != nil {
		t.Fatalf("DeleteFanOutsByInteraction failed: %v", err)
	}
	count, _ = database.CountFanOutsByInteraction(interaction.Id)
	if count != 0 {
		t.Errorf("Expected fan-outs gone, got %d", count)
	}
}

func TestDeletePlaylistCascades(t *testing.T) {
	database := setupTestDB(t)
	actor := makeIdentity(t, database, "actor", true, "")
	author := makeIdentity(t, database, "author", true, "")
	playlist := makePlaylist(t, database, author, true)
	interaction := makeInteraction(t, database, domain.InteractionLike, actor, playlist, domain.InteractionStateNew)

	fanOut := &domain.FanOut{
		Id:                   uuid.New(),
		Type:                 domain.FanOutInteraction,
		IdentityId:           author.Id,
		SubjectPlaylistId:    playlist.Id,
		SubjectInteractionId: interaction.Id,
		NextRetryAt:          time.Now(),
		CreatedAt:            time.Now(),
	}
	if err := database.CreateFanOut(fanOut); err != nil {
		t.Fatalf("CreateFanOut failed: %v", err)
	}

	if err := database.DeletePlaylist(playlist.Id); err != nil {
		t.Fatalf("DeletePlaylist failed: %v", err)
	}

	err, _ := database.ReadInteractionById(interaction.Id)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Interaction should cascade away with the playlist, got %v", err)
	}
	count, _ := database.CountFanOutsByInteraction(interaction.Id)
	if count != 0 {
		t.Errorf("Fan-outs should cascade away with the playlist, got %d", count)
	}
}
