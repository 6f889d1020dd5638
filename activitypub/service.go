package activitypub

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/stator"
	"github.com/halvdan/waxwing/util"
)

// maxActivePins bounds how many playlists an identity can feature at once.
const maxActivePins = 5

// PlaylistService is the entry point for locally originated playlist and
// interaction operations. Created rows start in their graph's initial state;
// the scheduler picks them up from there.
type PlaylistService struct {
	conf *util.AppConfig
}

func NewPlaylistService(conf *util.AppConfig) *PlaylistService {
	return &PlaylistService{conf: conf}
}

// CreatePlaylistAs creates a local playlist owned by the identity, with an
// optional poll payload.
func (s *PlaylistService) CreatePlaylistAs(identity *domain.Identity, name string, public bool, typeData *domain.QuestionData) (*domain.Playlist, error) {
	now := time.Now()
	playlist := &domain.Playlist{
		Id:           uuid.New(),
		AuthorId:     identity.Id,
		Name:         name,
		Local:        true,
		Public:       public,
		TypeData:     typeData,
		State:        PlaylistGraph().Initial(),
		StateChanged: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	playlist.ObjectURI = fmt.Sprintf("https://%s/playlists/%s", s.conf.Conf.SslDomain, playlist.Id)

	if err := db.GetDB().CreatePlaylist(playlist); err != nil {
		return nil, err
	}
	return playlist, nil
}

// InteractAs records an interaction by a local identity. An already active
// interaction of the same type is returned as is, so the call is idempotent.
func (s *PlaylistService) InteractAs(identity *domain.Identity, playlist *domain.Playlist, interactionType domain.InteractionType) (*domain.PlaylistInteraction, error) {
	database := db.GetDB()

	err, existing := database.ReadActiveInteraction(interactionType, identity.Id, playlist.Id)
	if err == nil && existing != nil {
		return existing, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	interaction := &domain.PlaylistInteraction{
		Id:           newInteractionId(),
		Type:         interactionType,
		IdentityId:   identity.Id,
		PlaylistId:   playlist.Id,
		Published:    now,
		State:        InteractionGraph().Initial(),
		StateChanged: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := database.CreateInteraction(interaction); err != nil {
		return nil, err
	}

	// The activity id embeds the row id, minted once the row exists
	interaction.ObjectURI = fmt.Sprintf("%s#%ss/%s", identity.ActorURI, interactionType, interaction.Id)
	if err := database.UpdateInteractionObjectURI(interaction.Id, interaction.ObjectURI); err != nil {
		return nil, err
	}
	log.Printf("Service: %s %s created by %s", interactionType, interaction.Id, identity.Username)
	return interaction, nil
}

func (s *PlaylistService) LikeAs(identity *domain.Identity, playlist *domain.Playlist) (*domain.PlaylistInteraction, error) {
	return s.InteractAs(identity, playlist, domain.InteractionLike)
}

func (s *PlaylistService) BoostAs(identity *domain.Identity, playlist *domain.Playlist) (*domain.PlaylistInteraction, error) {
	return s.InteractAs(identity, playlist, domain.InteractionBoost)
}

// VoteAs records the identity's poll choices. Validation failures
// (PollExpired, DuplicateVote) surface to the caller unwrapped.
func (s *PlaylistService) VoteAs(identity *domain.Identity, playlist *domain.Playlist, choices []string) ([]domain.PlaylistInteraction, error) {
	return CreateVotes(playlist, identity, choices)
}

// PinAs features a playlist. Only the author can pin, and only up to the
// pin limit.
func (s *PlaylistService) PinAs(identity *domain.Identity, playlist *domain.Playlist) (*domain.PlaylistInteraction, error) {
	if playlist.AuthorId != identity.Id {
		return nil, fmt.Errorf("only the author can pin a playlist")
	}
	pins, err := db.GetDB().CountActivePinsByIdentity(identity.Id)
	if err != nil {
		return nil, err
	}
	if pins >= maxActivePins {
		return nil, fmt.Errorf("pin limit of %d reached", maxActivePins)
	}
	return s.InteractAs(identity, playlist, domain.InteractionPin)
}

func (s *PlaylistService) UnpinAs(identity *domain.Identity, playlist *domain.Playlist) error {
	return s.UninteractAs(identity, playlist, domain.InteractionPin)
}

// UninteractAs undoes the identity's active interaction of the given type.
// The interaction moves to undone and the scheduler fans the undo out. A
// second call finds nothing active and reports NotFound.
func (s *PlaylistService) UninteractAs(identity *domain.Identity, playlist *domain.Playlist, interactionType domain.InteractionType) error {
	database := db.GetDB()
	err, interaction := database.ReadActiveInteraction(interactionType, identity.Id, playlist.Id)
	if err != nil {
		return err
	}

	if err := stator.TransitionPerform(database, InteractionGraph(), interaction.Id.String(), domain.InteractionStateUndone); err != nil {
		return err
	}
	log.Printf("Service: %s %s undone by %s", interactionType, interaction.Id, identity.Username)
	return nil
}

// UpsertItem appends a tracklist operation and flags the playlist for a
// recompute. Re-sending the same operation is a no-op.
func (s *PlaylistService) UpsertItem(identity *domain.Identity, playlist *domain.Playlist, item *domain.PlaylistItem) error {
	database := db.GetDB()

	if item.ISRC != "" {
		err, existing := database.ReadItemByISRC(playlist.Id, item.ISRC, item.Operation)
		if err == nil && existing != nil {
			return nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	item.PlaylistId = playlist.Id
	item.IdentityId = identity.Id
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	if err := database.CreatePlaylistItem(item); err != nil {
		return err
	}
	markPlaylistOutdated(playlist.Id)
	return nil
}

// Tracklist materializes the playlist's current tracklist from its
// operation log.
func (s *PlaylistService) Tracklist(playlist *domain.Playlist) ([]domain.PlaylistItem, error) {
	err, items := db.GetDB().ReadItemsByPlaylist(playlist.Id)
	if err != nil {
		return nil, err
	}
	return domain.TracklistDelta(*items, time.Now()), nil
}

// Delete removes a playlist and everything hanging off it.
func (s *PlaylistService) Delete(playlist *domain.Playlist) error {
	return db.GetDB().DeletePlaylist(playlist.Id)
}
