package activitypub

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/stator"
)

const interactionsTable = "playlist_interactions"

var interactionGraph = buildInteractionGraph()

// InteractionGraph returns the lifecycle graph for playlist interactions:
// new and undone fan out automatically, fanned_out waits for an undo, and
// undone_fanned_out rows are purged after a day.
func InteractionGraph() *stator.Graph {
	return interactionGraph
}

func buildInteractionGraph() *stator.Graph {
	graph, err := stator.NewGraph("playlistinteraction", interactionsTable, map[string]stator.StateDef{
		domain.InteractionStateNew:             {Initial: true, TryInterval: 300 * time.Second},
		domain.InteractionStateFannedOut:       {ExternallyProgressed: true},
		domain.InteractionStateUndone:          {TryInterval: 300 * time.Second},
		domain.InteractionStateUndoneFannedOut: {DeleteAfter: 24 * time.Hour},
	})
	if err != nil {
		panic(err)
	}
	graph.AddTransition(domain.InteractionStateNew, domain.InteractionStateFannedOut)
	graph.AddTransition(domain.InteractionStateFannedOut, domain.InteractionStateUndone)
	// Undo before the forward fan-out ever ran
	graph.AddTransition(domain.InteractionStateNew, domain.InteractionStateUndone)
	graph.AddTransition(domain.InteractionStateUndone, domain.InteractionStateUndoneFannedOut)
	// Inbound undos from the originating server skip our fan-out entirely
	graph.AddTransition(domain.InteractionStateNew, domain.InteractionStateUndoneFannedOut)
	graph.AddTransition(domain.InteractionStateFannedOut, domain.InteractionStateUndoneFannedOut)
	graph.OnState(domain.InteractionStateNew, handleNewInteraction)
	graph.OnState(domain.InteractionStateUndone, handleUndoneInteraction)
	return graph
}

// GetTargets resolves the deduplicated delivery targets for an interaction:
// the playlist author plus the actor's followers, minus hard-blocked
// identities, with remote recipients collapsed per shared inbox. Local
// recipients are always kept individually.
func GetTargets(interaction *domain.PlaylistInteraction) ([]domain.Identity, error) {
	if _, err := domain.ParseInteractionType(string(interaction.Type)); err != nil {
		return nil, err
	}

	database := db.GetDB()

	err, actor := database.ReadIdentityById(interaction.IdentityId)
	if err != nil {
		return nil, err
	}
	err, playlist := database.ReadPlaylistById(interaction.PlaylistId)
	if err != nil {
		return nil, err
	}
	err, author := database.ReadIdentityById(playlist.AuthorId)
	if err != nil {
		return nil, err
	}

	candidates := []domain.Identity{*author}

	boostsOnly := interaction.Type == domain.InteractionBoost
	err, followers := database.ReadFollowerIdentities(actor.Id, boostsOnly)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, *followers...)

	err, blocked := database.ReadBlockedTargetIds(actor.Id)
	if err != nil {
		return nil, err
	}

	var targets []domain.Identity
	seen := make(map[uuid.UUID]bool)
	sharedInboxes := make(map[string]bool)
	for _, candidate := range candidates {
		if seen[candidate.Id] || blocked[candidate.Id] {
			continue
		}
		seen[candidate.Id] = true

		if candidate.Local {
			// Locality takes priority over inbox sharing
			targets = append(targets, candidate)
			continue
		}
		if !actor.Local {
			continue
		}
		if candidate.SharedInboxURI != "" {
			if sharedInboxes[candidate.SharedInboxURI] {
				continue
			}
			sharedInboxes[candidate.SharedInboxURI] = true
		}
		targets = append(targets, candidate)
	}
	return targets, nil
}

// handleNewInteraction fans a fresh interaction out. The fan-out rows and
// the state transition commit in one transaction; on success the playlist is
// flagged for a stats recompute.
func handleNewInteraction(id string) (string, error) {
	interaction, actor, playlist, author, err := loadFanOutContext(id)
	if err != nil {
		return "", err
	}

	recipients, err := forwardRecipients(interaction, actor, playlist, author)
	if err != nil {
		return "", err
	}

	fanOuts := buildFanOuts(interaction, domain.FanOutInteraction, recipients)
	database := db.GetDB()
	if err := database.TransitionWithFanOuts(interactionsTable, id,
		domain.InteractionStateNew, domain.InteractionStateFannedOut, fanOuts); err != nil {
		return "", err
	}
	log.Printf("FanOut: %s %s fanned out to %d recipients", interaction.Type, id, len(fanOuts))

	markPlaylistOutdated(playlist.Id)
	return domain.InteractionStateFannedOut, nil
}

// handleUndoneInteraction fans the undo out, mirroring the forward rules.
// Any forward deliveries still in flight are cancelled first.
func handleUndoneInteraction(id string) (string, error) {
	interaction, actor, playlist, author, err := loadFanOutContext(id)
	if err != nil {
		return "", err
	}

	recipients, err := undoRecipients(interaction, actor, playlist, author)
	if err != nil {
		return "", err
	}

	database := db.GetDB()
	if err := database.DeleteFanOutsByInteraction(interaction.Id); err != nil {
		return "", err
	}

	fanOuts := buildFanOuts(interaction, domain.FanOutUndoInteraction, recipients)
	if err := database.TransitionWithFanOuts(interactionsTable, id,
		domain.InteractionStateUndone, domain.InteractionStateUndoneFannedOut, fanOuts); err != nil {
		return "", err
	}
	log.Printf("FanOut: undo of %s %s fanned out to %d recipients", interaction.Type, id, len(fanOuts))

	markPlaylistOutdated(playlist.Id)
	return domain.InteractionStateUndoneFannedOut, nil
}

// forwardRecipients applies the per-type fan-out rules on top of the
// resolved target set.
func forwardRecipients(interaction *domain.PlaylistInteraction, actor *domain.Identity, playlist *domain.Playlist, author *domain.Identity) ([]domain.Identity, error) {
	switch interaction.Type {
	case domain.InteractionBoost, domain.InteractionPin:
		targets, err := GetTargets(interaction)
		if err != nil {
			return nil, err
		}
		if interaction.Type == domain.InteractionBoost && actor.Local {
			targets = ensureRecipient(targets, *actor)
		}
		return targets, nil
	case domain.InteractionLike:
		// Author only, and never for a purely remote pair
		if !actor.Local && !author.Local {
			return nil, nil
		}
		return []domain.Identity{*author}, nil
	case domain.InteractionVote:
		// Votes only federate from a local voter back to a remote poll
		if actor.Local && !playlist.Local {
			return []domain.Identity{*author}, nil
		}
		return nil, nil
	}
	// Unreachable: the type was validated at creation time
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedInteractionType, interaction.Type)
}

// undoRecipients mirrors forwardRecipients for the undo direction. Boost and
// pin undos walk the inbound follows directly instead of re-resolving.
func undoRecipients(interaction *domain.PlaylistInteraction, actor *domain.Identity, playlist *domain.Playlist, author *domain.Identity) ([]domain.Identity, error) {
	switch interaction.Type {
	case domain.InteractionLike:
		if !actor.Local && !author.Local {
			return nil, nil
		}
		return []domain.Identity{*author}, nil
	case domain.InteractionVote:
		if actor.Local && !playlist.Local {
			return []domain.Identity{*author}, nil
		}
		return nil, nil
	case domain.InteractionBoost, domain.InteractionPin:
		database := db.GetDB()
		err, followers := database.ReadFollowerIdentities(actor.Id, false)
		if err != nil {
			return nil, err
		}
		var recipients []domain.Identity
		for _, follower := range *followers {
			if !actor.Local && !follower.Local {
				continue
			}
			recipients = append(recipients, follower)
		}
		if actor.Local || author.Local {
			recipients = ensureRecipient(recipients, *author)
		}
		if interaction.Type == domain.InteractionBoost && actor.Local {
			recipients = ensureRecipient(recipients, *actor)
		}
		return recipients, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedInteractionType, interaction.Type)
}

func ensureRecipient(recipients []domain.Identity, identity domain.Identity) []domain.Identity {
	for _, recipient := range recipients {
		if recipient.Id == identity.Id {
			return recipients
		}
	}
	return append(recipients, identity)
}

func buildFanOuts(interaction *domain.PlaylistInteraction, fanOutType domain.FanOutType, recipients []domain.Identity) []domain.FanOut {
	now := time.Now()
	fanOuts := make([]domain.FanOut, 0, len(recipients))
	for _, recipient := range recipients {
		fanOuts = append(fanOuts, domain.FanOut{
			Id:                   uuid.New(),
			Type:                 fanOutType,
			IdentityId:           recipient.Id,
			SubjectPlaylistId:    interaction.PlaylistId,
			SubjectInteractionId: interaction.Id,
			NextRetryAt:          now,
			CreatedAt:            now,
		})
	}
	return fanOuts
}

func loadFanOutContext(id string) (*domain.PlaylistInteraction, *domain.Identity, *domain.Playlist, *domain.Identity, error) {
	interactionId, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	database := db.GetDB()
	err, interaction := database.ReadInteractionById(interactionId)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	err, actor := database.ReadIdentityById(interaction.IdentityId)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	err, playlist := database.ReadPlaylistById(interaction.PlaylistId)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	err, author := database.ReadIdentityById(playlist.AuthorId)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return interaction, actor, playlist, author, nil
}

// markPlaylistOutdated flags the playlist for a stats recompute. Already
// outdated playlists are left alone.
func markPlaylistOutdated(playlistId uuid.UUID) {
	if err := stator.TransitionPerform(db.GetDB(), PlaylistGraph(), playlistId.String(), domain.PlaylistStateOutdated); err != nil {
		log.Printf("FanOut: failed to mark playlist %s outdated: %v", playlistId, err)
	}
}
