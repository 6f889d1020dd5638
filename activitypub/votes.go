package activitypub

import (
	"fmt"
	"time"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
)

// CreateVotes records the identity's vote on a poll playlist, one
// interaction per distinct choice. For remote polls the stored option
// tallies and voter count are bumped immediately; local polls derive their
// counts live from the stored interactions instead.
func CreateVotes(playlist *domain.Playlist, identity *domain.Identity, choices []string) ([]domain.PlaylistInteraction, error) {
	if playlist.TypeData == nil {
		return nil, fmt.Errorf("playlist %s is not a poll: %w", playlist.ObjectURI, domain.ErrNotFound)
	}
	if playlist.TypeData.Expired(time.Now()) {
		return nil, domain.ErrPollExpired
	}

	database := db.GetDB()
	voted, err := database.HasActiveVote(identity.Id, playlist.Id)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, domain.ErrDuplicateVote
	}

	options := make(map[string]int, len(playlist.TypeData.Options))
	for index, option := range playlist.TypeData.Options {
		options[option.Name] = index
	}

	distinct := make([]string, 0, len(choices))
	seen := make(map[string]bool, len(choices))
	for _, choice := range choices {
		if seen[choice] {
			continue
		}
		if _, ok := options[choice]; !ok {
			return nil, fmt.Errorf("unknown option %q: %w", choice, domain.ErrNotFound)
		}
		seen[choice] = true
		distinct = append(distinct, choice)
	}
	if len(distinct) == 0 {
		return nil, fmt.Errorf("no choices given")
	}
	if playlist.TypeData.Mode != domain.PollModeAnyOf && len(distinct) > 1 {
		return nil, fmt.Errorf("poll %s is single choice", playlist.ObjectURI)
	}

	now := time.Now()
	votes := make([]domain.PlaylistInteraction, 0, len(distinct))
	for _, choice := range distinct {
		vote := domain.PlaylistInteraction{
			Id:           newInteractionId(),
			Type:         domain.InteractionVote,
			IdentityId:   identity.Id,
			PlaylistId:   playlist.Id,
			Value:        choice,
			Published:    now,
			State:        domain.InteractionStateNew,
			StateChanged: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		vote.ObjectURI = fmt.Sprintf("%s#votes/%s", identity.ActorURI, vote.Id)
		votes = append(votes, vote)
	}

	// Remote polls carry the origin server's tallies, so reflect our votes
	// into them right away. The bump works on a copy; the caller's struct
	// only changes once the batch commits and is re-read.
	var bumped *domain.QuestionData
	if !playlist.Local {
		clone := *playlist.TypeData
		clone.Options = append([]domain.QuestionOption(nil), clone.Options...)
		for _, vote := range votes {
			clone.Options[options[vote.Value]].Votes++
		}
		clone.VoterCount++
		bumped = &clone
	}

	if err := database.CreateVoteBatch(votes, playlist.Id, bumped); err != nil {
		return nil, err
	}
	return votes, nil
}

// PollSummary builds the consumer-facing poll JSON for a viewing identity,
// or for an anonymous viewer when identity is nil.
func PollSummary(playlist *domain.Playlist, identity *domain.Identity) (*domain.PollSummary, error) {
	if playlist.TypeData == nil {
		return nil, fmt.Errorf("playlist %s is not a poll: %w", playlist.ObjectURI, domain.ErrNotFound)
	}

	voted := false
	var ownValues []string
	if identity != nil {
		voted = identity.Id == playlist.AuthorId
		err, votes := db.GetDB().ReadActiveVotes(identity.Id, playlist.Id)
		if err != nil {
			return nil, err
		}
		for _, vote := range *votes {
			ownValues = append(ownValues, vote.Value)
		}
	}

	return playlist.TypeData.Summary(playlist.Id.String(), time.Now(), voted, ownValues), nil
}
