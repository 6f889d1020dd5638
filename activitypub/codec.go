package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/util"
)

const activityContext = "https://www.w3.org/ns/activitystreams"

// Activity represents a generic ActivityPub activity. Audience fields are
// omitted from the wire form when empty.
type Activity struct {
	Context   interface{} `json:"@context,omitempty"`
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor,omitempty"`
	Object    interface{} `json:"object,omitempty"`
	Target    interface{} `json:"target,omitempty"`
	Published string      `json:"published,omitempty"`
	To        []string    `json:"to,omitempty"`
	Cc        []string    `json:"cc,omitempty"`
}

// GetStrOrId returns a string value directly, or the "id" member of an
// embedded object. ActivityPub allows either form in most reference fields.
func GetStrOrId(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// wireTypes maps inbound activity types onto interaction types. Populated
// once at startup via RegisterWireType, read-only afterwards.
var wireTypes = map[string]domain.InteractionType{
	"Like":     domain.InteractionLike,
	"Announce": domain.InteractionBoost,
	"Add":      domain.InteractionPin,
}

// RegisterWireType adds an activity type mapping. Must be called during
// initialization, before any inbound traffic is handled.
func RegisterWireType(wireType string, interactionType domain.InteractionType) {
	wireTypes[wireType] = interactionType
}

// ClassifyActivity maps a decoded activity onto an interaction type and the
// URI of the playlist it targets. Votes arrive as Create of a Note that
// names an option and replies to the poll.
func ClassifyActivity(data map[string]interface{}) (domain.InteractionType, string, error) {
	wireType, _ := data["type"].(string)

	if wireType == "Create" {
		object, ok := data["object"].(map[string]interface{})
		if !ok {
			return "", "", fmt.Errorf("%w: Create without embedded object", domain.ErrUnsupportedInteractionType)
		}
		objectType, _ := object["type"].(string)
		name, _ := object["name"].(string)
		inReplyTo := GetStrOrId(object["inReplyTo"])
		if objectType == "Note" && name != "" && inReplyTo != "" {
			return domain.InteractionVote, inReplyTo, nil
		}
		return "", "", fmt.Errorf("%w: Create of %s", domain.ErrUnsupportedInteractionType, objectType)
	}

	interactionType, ok := wireTypes[wireType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", domain.ErrUnsupportedInteractionType, wireType)
	}
	return interactionType, GetStrOrId(data["object"]), nil
}

// InteractionByAP builds (and with create set, persists) an interaction from
// an inbound activity document. Vote constraint violations surface as
// not-found so the caller drops the activity instead of retrying it.
func InteractionByAP(data map[string]interface{}, create bool) (*domain.PlaylistInteraction, error) {
	actorURI := GetStrOrId(data["actor"])
	if actorURI == "" {
		return nil, fmt.Errorf("activity missing actor")
	}

	identity, err := ResolveIdentity(actorURI, create)
	if err != nil {
		return nil, err
	}

	interactionType, playlistURI, err := ClassifyActivity(data)
	if err != nil {
		return nil, err
	}

	// An Add only pins when it lands in the actor's featured collection;
	// adds to tag pages or arbitrary collections are not ours to record
	if interactionType == domain.InteractionPin {
		if object, ok := data["object"].(map[string]interface{}); ok {
			if objectType, _ := object["type"].(string); objectType == "Hashtag" {
				return nil, fmt.Errorf("%w: Add of a Hashtag", domain.ErrNotFound)
			}
		}
		target := GetStrOrId(data["target"])
		if target == "" || target != identity.FeaturedCollectionURI {
			return nil, fmt.Errorf("%w: Add target %q is not the featured collection of %s", domain.ErrNotFound, target, identity.ActorURI)
		}
	}

	playlist, err := ResolvePlaylist(playlistURI, create)
	if err != nil {
		return nil, err
	}

	activityId := GetStrOrId(data["id"])
	database := db.GetDB()
	if activityId != "" {
		if err, existing := database.ReadInteractionByObjectURI(activityId); err == nil && existing != nil {
			return existing, nil
		}
	}

	// A re-sent Add carries a fresh activity id; the active pin is still
	// the same pin
	if interactionType == domain.InteractionPin {
		if err, existing := database.ReadActiveInteraction(domain.InteractionPin, identity.Id, playlist.Id); err == nil && existing != nil {
			return existing, nil
		}
	}

	published := parsePublished(data)

	value := ""
	if interactionType == domain.InteractionVote {
		object, _ := data["object"].(map[string]interface{})
		value, _ = object["name"].(string)

		if playlist.TypeData == nil {
			return nil, fmt.Errorf("vote on non-poll playlist %s: %w", playlist.ObjectURI, domain.ErrNotFound)
		}
		if playlist.TypeData.Expired(time.Now()) {
			return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, domain.ErrPollExpired)
		}
		if playlist.TypeData.Mode != "anyOf" {
			voted, err := database.HasActiveVote(identity.Id, playlist.Id)
			if err != nil {
				return nil, err
			}
			if voted {
				return nil, fmt.Errorf("%w: %w", domain.ErrNotFound, domain.ErrDuplicateVote)
			}
		}
	}

	interaction := &domain.PlaylistInteraction{
		Id:           newInteractionId(),
		ObjectURI:    activityId,
		Type:         interactionType,
		IdentityId:   identity.Id,
		PlaylistId:   playlist.Id,
		Value:        value,
		Published:    published,
		State:        domain.InteractionStateNew,
		StateChanged: time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if create {
		if err := database.CreateInteraction(interaction); err != nil {
			return nil, err
		}
	}
	return interaction, nil
}

// newInteractionId mints a time-ordered id so creation order is recoverable.
func newInteractionId() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func parsePublished(data map[string]interface{}) time.Time {
	if raw, ok := data["published"].(string); ok {
		if parsed, err := util.ParseLDDate(raw); err == nil && parsed != nil {
			return *parsed
		}
	}
	return time.Now()
}

// ToAP renders the forward activity document for an interaction.
func ToAP(interaction *domain.PlaylistInteraction, actor *domain.Identity, playlist *domain.Playlist, author *domain.Identity) (*Activity, error) {
	published := util.FormatLDDate(interaction.Published)

	switch interaction.Type {
	case domain.InteractionLike:
		return &Activity{
			Context:   activityContext,
			ID:        interaction.ObjectURI,
			Type:      "Like",
			Actor:     actor.ActorURI,
			Object:    playlist.ObjectURI,
			Published: published,
			To:        []string{author.ActorURI},
		}, nil
	case domain.InteractionBoost:
		return &Activity{
			Context:   activityContext,
			ID:        interaction.ObjectURI,
			Type:      "Announce",
			Actor:     actor.ActorURI,
			Object:    playlist.ObjectURI,
			Published: published,
			Cc:        []string{author.ActorURI},
		}, nil
	case domain.InteractionVote:
		return &Activity{
			Context: activityContext,
			ID:      interaction.ObjectURI + "/activity",
			Type:    "Create",
			Actor:   actor.ActorURI,
			Object: map[string]interface{}{
				"id":           interaction.ObjectURI,
				"type":         "Note",
				"name":         interaction.Value,
				"inReplyTo":    playlist.ObjectURI,
				"attributedTo": actor.ActorURI,
				"published":    published,
				"to":           []string{author.ActorURI},
			},
			Published: published,
			To:        []string{author.ActorURI},
		}, nil
	case domain.InteractionPin:
		return &Activity{
			Context:   activityContext,
			ID:        interaction.ObjectURI,
			Type:      "Add",
			Actor:     actor.ActorURI,
			Object:    playlist.ObjectURI,
			Target:    actor.FeaturedCollectionURI,
			Published: published,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedInteractionType, interaction.Type)
}

// ToUndoAP renders the undo document for an interaction. Pin undo is a
// Remove from the featured collection rather than a wrapped Undo.
func ToUndoAP(interaction *domain.PlaylistInteraction, actor *domain.Identity, playlist *domain.Playlist, author *domain.Identity) (*Activity, error) {
	if interaction.Type == domain.InteractionPin {
		return &Activity{
			Context: activityContext,
			ID:      interaction.ObjectURI + "#remove",
			Type:    "Remove",
			Actor:   actor.ActorURI,
			Object:  playlist.ObjectURI,
			Target:  actor.FeaturedCollectionURI,
		}, nil
	}

	forward, err := ToAP(interaction, actor, playlist, author)
	if err != nil {
		return nil, err
	}
	forward.Context = nil

	return &Activity{
		Context: activityContext,
		ID:      interaction.ObjectURI + "#undo",
		Type:    "Undo",
		Actor:   actor.ActorURI,
		Object:  forward,
		To:      forward.To,
		Cc:      forward.Cc,
	}, nil
}

// playlistResponse is the wire shape of a playlist object, a Question when
// it carries a poll.
type playlistResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Name         string      `json:"name"`
	Summary      string      `json:"summary"`
	AttributedTo interface{} `json:"attributedTo"`
	Published    string      `json:"published"`
}

// ResolvePlaylist returns the playlist for an object URI, fetching and
// storing it from the origin server when fetch is set and it is unknown.
func ResolvePlaylist(objectURI string, fetch bool) (*domain.Playlist, error) {
	database := db.GetDB()
	err, stored := database.ReadPlaylistByObjectURI(objectURI)
	if err == nil && stored != nil {
		return stored, nil
	}
	if !fetch {
		return nil, fmt.Errorf("playlist %s: %w", objectURI, domain.ErrNotFound)
	}
	return FetchRemotePlaylist(objectURI)
}

// FetchRemotePlaylist fetches a playlist object by URI and stores it.
func FetchRemotePlaylist(objectURI string) (*domain.Playlist, error) {
	req, err := http.NewRequest("GET", objectURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion()+" ActivityPub")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse playlist JSON: %w", err)
	}

	var parsed playlistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse playlist JSON: %w", err)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("playlist missing id")
	}

	authorURI := GetStrOrId(parsed.AttributedTo)
	if authorURI == "" {
		return nil, fmt.Errorf("playlist %s missing attributedTo", parsed.ID)
	}
	author, err := ResolveIdentity(authorURI, true)
	if err != nil {
		return nil, err
	}

	var typeData *domain.QuestionData
	if parsed.Type == "Question" {
		typeData, err = domain.NormalizeQuestionData(raw)
		if err != nil {
			return nil, err
		}
	}

	name := parsed.Name
	if name == "" {
		name = parsed.Summary
	}

	playlist := &domain.Playlist{
		Id:           uuid.New(),
		ObjectURI:    parsed.ID,
		AuthorId:     author.Id,
		Name:         name,
		Local:        false,
		Public:       true,
		TypeData:     typeData,
		State:        domain.PlaylistStateOutdated,
		StateChanged: time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	database := db.GetDB()
	if err := database.CreatePlaylist(playlist); err != nil {
		// Lost a race with a concurrent fetch; use the winner
		if err, stored := database.ReadPlaylistByObjectURI(parsed.ID); err == nil && stored != nil {
			return stored, nil
		}
		return nil, err
	}
	return playlist, nil
}
