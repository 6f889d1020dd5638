package activitypub

import (
	"errors"
	"testing"
	"time"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
)

func makePoll(t *testing.T, database *db.DB, author *domain.Identity, local bool, mode string, endTime *time.Time) *domain.Playlist {
	t.Helper()
	playlist := makePlaylist(t, database, author, local)
	playlist.TypeData = &domain.QuestionData{
		Type: "Question",
		Mode: mode,
		Options: []domain.QuestionOption{
			{Name: "A", Type: "Note"},
			{Name: "B", Type: "Note"},
		},
		EndTime: endTime,
	}
	if err := database.UpdatePlaylistTypeData(playlist.Id, playlist.TypeData); err != nil {
		t.Fatalf("UpdatePlaylistTypeData failed: %v", err)
	}
	return playlist
}

func TestVoteOneOfSummary(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	voter := makeIdentity(t, database, "voter", true, "")
	poll := makePoll(t, database, author, true, domain.PollModeOneOf, nil)

	votes, err := CreateVotes(poll, voter, []string{"A"})
	if err != nil {
		t.Fatalf("CreateVotes failed: %v", err)
	}
	if len(votes) != 1 || votes[0].Value != "A" {
		t.Fatalf("Expected one vote for A, got %+v", votes)
	}

	// The recount derives local tallies from the stored votes
	next, err := handleOutdatedPlaylist(poll.Id.String())
	if err != nil {
		t.Fatalf("handleOutdatedPlaylist failed: %v", err)
	}
	if next != domain.PlaylistStateUpdated {
		t.Errorf("Expected updated, got %s", next)
	}

	err, fresh := database.ReadPlaylistById(poll.Id)
	if err != nil {
		t.Fatalf("ReadPlaylistById failed: %v", err)
	}
	summary, err := PollSummary(fresh, voter)
	if err != nil {
		t.Fatalf("PollSummary failed: %v", err)
	}
	if summary.VotesCount != 1 || summary.VotersCount != 1 {
		t.Errorf("Expected 1 vote from 1 voter, got %d/%d", summary.VotesCount, summary.VotersCount)
	}
	if len(summary.Options) != 2 || summary.Options[0].VotesCount != 1 || summary.Options[1].VotesCount != 0 {
		t.Errorf("Expected options [A:1 B:0], got %+v", summary.Options)
	}
	if !summary.Voted || len(summary.OwnVotes) != 1 || summary.OwnVotes[0] != 0 {
		t.Errorf("Voter must see voted=true and own_votes=[0], got %v %v", summary.Voted, summary.OwnVotes)
	}
	if fresh.Stats["vote"] != 1 || fresh.Stats["total"] != 1 {
		t.Errorf("Expected vote tallied in playlist stats, got %+v", fresh.Stats)
	}
}

func TestVoteDuplicateRejected(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	voter := makeIdentity(t, database, "voter", true, "")
	poll := makePoll(t, database, author, true, domain.PollModeOneOf, nil)

	if _, err := CreateVotes(poll, voter, []string{"A"}); err != nil {
		t.Fatalf("CreateVotes failed: %v", err)
	}
	_, err := CreateVotes(poll, voter, []string{"B"})
	if !errors.Is(err, domain.ErrDuplicateVote) {
		t.Fatalf("Expected ErrDuplicateVote, got %v", err)
	}

	err, stored := database.ReadActiveVotes(voter.Id, poll.Id)
	if err != nil {
		t.Fatalf("ReadActiveVotes failed: %v", err)
	}
	if len(*stored) != 1 {
		t.Errorf("Rejected revote must not add rows, got %d", len(*stored))
	}
}

func TestVoteExpiredPoll(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	voter := makeIdentity(t, database, "voter", true, "")
	past := time.Now().Add(-time.Hour)
	poll := makePoll(t, database, author, true, domain.PollModeOneOf, &past)

	if _, err := CreateVotes(poll, voter, []string{"A"}); !errors.Is(err, domain.ErrPollExpired) {
		t.Errorf("Expected ErrPollExpired, got %v", err)
	}
}

func TestVoteValidation(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	voter := makeIdentity(t, database, "voter", true, "")
	poll := makePoll(t, database, author, true, domain.PollModeOneOf, nil)

	if _, err := CreateVotes(poll, voter, []string{"C"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Unknown option must be NotFound, got %v", err)
	}
	if _, err := CreateVotes(poll, voter, []string{"A", "B"}); err == nil {
		t.Errorf("Single choice poll must reject multiple choices")
	}

	plain := makePlaylist(t, database, author, true)
	if _, err := CreateVotes(plain, voter, []string{"A"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Voting on a non-poll must be NotFound, got %v", err)
	}
}

func TestVoteAnyOfDeduplicatesChoices(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	voter := makeIdentity(t, database, "voter", true, "")
	poll := makePoll(t, database, author, true, domain.PollModeAnyOf, nil)

	votes, err := CreateVotes(poll, voter, []string{"A", "B", "A"})
	if err != nil {
		t.Fatalf("CreateVotes failed: %v", err)
	}
	if len(votes) != 2 {
		t.Errorf("Expected 2 distinct votes, got %d", len(votes))
	}
}

func TestVoteRemotePollBumpsTallies(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "rauthor", false, "")
	voter := makeIdentity(t, database, "voter", true, "")
	poll := makePoll(t, database, author, false, domain.PollModeOneOf, nil)
	poll.TypeData.Options[1].Votes = 4
	poll.TypeData.VoterCount = 4
	if err := database.UpdatePlaylistTypeData(poll.Id, poll.TypeData); err != nil {
		t.Fatalf("UpdatePlaylistTypeData failed: %v", err)
	}

	if _, err := CreateVotes(poll, voter, []string{"B"}); err != nil {
		t.Fatalf("CreateVotes failed: %v", err)
	}

	// The bump is commit-side only; the caller's copy stays untouched
	if poll.TypeData.Options[1].Votes != 4 || poll.TypeData.VoterCount != 4 {
		t.Errorf("In-memory tallies must not change, got %d votes / %d voters",
			poll.TypeData.Options[1].Votes, poll.TypeData.VoterCount)
	}

	err, fresh := database.ReadPlaylistById(poll.Id)
	if err != nil {
		t.Fatalf("ReadPlaylistById failed: %v", err)
	}
	if fresh.TypeData.Options[1].Votes != 5 {
		t.Errorf("Expected B tally bumped to 5, got %d", fresh.TypeData.Options[1].Votes)
	}
	if fresh.TypeData.VoterCount != 5 {
		t.Errorf("Expected voter count bumped to 5, got %d", fresh.TypeData.VoterCount)
	}
}

func TestPollSummaryAuthorCountsAsVoted(t *testing.T) {
	database := setupTestDB(t)

	author := makeIdentity(t, database, "author", true, "")
	poll := makePoll(t, database, author, true, domain.PollModeOneOf, nil)

	summary, err := PollSummary(poll, author)
	if err != nil {
		t.Fatalf("PollSummary failed: %v", err)
	}
	if !summary.Voted {
		t.Errorf("The author must count as having participated")
	}
	if len(summary.OwnVotes) != 0 {
		t.Errorf("The author has no own votes, got %v", summary.OwnVotes)
	}

	anonymous, err := PollSummary(poll, nil)
	if err != nil {
		t.Fatalf("PollSummary failed: %v", err)
	}
	if anonymous.Voted {
		t.Errorf("Anonymous viewers have not voted")
	}
}
