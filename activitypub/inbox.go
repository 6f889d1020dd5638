package activitypub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/stator"
	"github.com/halvdan/waxwing/util"
)

// HandleInbox processes incoming ActivityPub activities.
func HandleInbox(w http.ResponseWriter, r *http.Request, conf *util.AppConfig) {
	if r.Header.Get("Signature") == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	activityType, _ := data["type"].(string)
	actorURI := GetStrOrId(data["actor"])
	activityURI := GetStrOrId(data["id"])
	log.Printf("Inbox: Received %s from %s", activityType, actorURI)

	actor, err := ResolveIdentity(actorURI, true)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", actorURI, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	if _, err := VerifyRequest(r, actor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	database := db.GetDB()
	if activityURI != "" {
		seen, err := database.HasSeenActivity(activityURI)
		if err == nil && seen {
			log.Printf("Inbox: Activity %s already handled, skipping", activityURI)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if err := database.LogActivity(activityURI, activityType, actorURI, GetStrOrId(data["object"]), string(body), false); err != nil {
			log.Printf("Inbox: Failed to log activity: %v", err)
			// Keep going, dedup is best effort
		}
	}

	switch activityType {
	case "Like", "Announce", "Create", "Add":
		err = HandleAP(data)
	case "Undo":
		err = HandleUndoAP(data)
	case "Remove":
		err = handleRemoveActivity(data, actor)
	case "Follow":
		err = handleFollowActivity(data, actor, conf)
	case "Accept":
		err = handleAcceptActivity(data)
	default:
		log.Printf("Inbox: Unsupported activity type: %s", activityType)
	}
	if err != nil {
		log.Printf("Inbox: Failed to handle %s: %v", activityType, err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	if activityURI != "" {
		database.MarkActivityProcessed(activityURI)
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleAP records an inbound interaction activity. A playlist or
// constraint that is already gone makes the activity inapplicable, which is
// a logged no-op rather than an error the sender should retry.
func HandleAP(data map[string]interface{}) error {
	interaction, err := InteractionByAP(data, true)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Inbox: Dropping inapplicable activity: %v", err)
			return nil
		}
		return err
	}
	log.Printf("Inbox: Recorded %s %s on playlist %s", interaction.Type, interaction.Id, interaction.PlaylistId)
	return nil
}

// HandleUndoAP terminates an interaction undone by its originating server.
// The undo actor must match the interaction's actor; the interaction then
// moves straight to undone_fanned_out, since the remote side already
// delivered the undo itself. An undo of a Follow removes the follow edge.
func HandleUndoAP(data map[string]interface{}) error {
	if object, ok := data["object"].(map[string]interface{}); ok {
		if objectType, _ := object["type"].(string); objectType == "Follow" {
			return handleUnfollowActivity(data, object)
		}
	}

	objectURI := GetStrOrId(data["object"])
	if objectURI == "" {
		return fmt.Errorf("undo without object")
	}

	database := db.GetDB()
	err, interaction := database.ReadInteractionByObjectURI(objectURI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Inbox: Undo for unknown interaction %s, ignoring", objectURI)
			return nil
		}
		return err
	}

	actorURI := GetStrOrId(data["actor"])
	if err := verifyInteractionActor(interaction, actorURI); err != nil {
		return err
	}

	return terminateInboundInteraction(interaction)
}

// handleRemoveActivity unpins: a Remove of the playlist from the actor's
// featured collection ends their active pin. Removes from any other
// collection are not pin related.
func handleRemoveActivity(data map[string]interface{}, actor *domain.Identity) error {
	playlistURI := GetStrOrId(data["object"])
	if playlistURI == "" {
		return fmt.Errorf("remove without object")
	}

	target := GetStrOrId(data["target"])
	if target == "" || target != actor.FeaturedCollectionURI {
		log.Printf("Inbox: Remove target %q is not the featured collection of %s, ignoring", target, actor.ActorURI)
		return nil
	}

	database := db.GetDB()
	err, playlist := database.ReadPlaylistByObjectURI(playlistURI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Inbox: Remove for unknown playlist %s, ignoring", playlistURI)
			return nil
		}
		return err
	}

	err, pin := database.ReadActiveInteraction(domain.InteractionPin, actor.Id, playlist.Id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Inbox: Remove without active pin on %s, ignoring", playlistURI)
			return nil
		}
		return err
	}
	return terminateInboundInteraction(pin)
}

func verifyInteractionActor(interaction *domain.PlaylistInteraction, actorURI string) error {
	database := db.GetDB()
	err, owner := database.ReadIdentityById(interaction.IdentityId)
	if err != nil {
		return err
	}
	if owner.ActorURI != actorURI {
		return fmt.Errorf("%w: undo by %s of interaction owned by %s", domain.ErrActorMismatch, actorURI, owner.ActorURI)
	}
	return nil
}

// terminateInboundInteraction cancels pending deliveries and force
// transitions the interaction to its terminal state, bypassing our own
// fan-out.
func terminateInboundInteraction(interaction *domain.PlaylistInteraction) error {
	database := db.GetDB()
	if err := database.DeleteFanOutsByInteraction(interaction.Id); err != nil {
		return err
	}
	if err := stator.TransitionPerform(database, InteractionGraph(), interaction.Id.String(), domain.InteractionStateUndoneFannedOut); err != nil {
		return err
	}
	markPlaylistOutdated(interaction.PlaylistId)
	log.Printf("Inbox: Interaction %s undone by origin", interaction.Id)
	return nil
}

// handleUnfollowActivity removes a follow edge undone by its origin server.
// The undo actor must be the follow's source.
func handleUnfollowActivity(data map[string]interface{}, object map[string]interface{}) error {
	followURI, _ := object["id"].(string)
	if followURI == "" {
		return fmt.Errorf("undo follow missing id")
	}

	database := db.GetDB()
	err, follow := database.ReadFollowByURI(followURI)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Printf("Inbox: Undo for unknown follow %s, ignoring", followURI)
			return nil
		}
		return err
	}

	actorURI := GetStrOrId(data["actor"])
	err, source := database.ReadIdentityById(follow.SourceId)
	if err != nil {
		return err
	}
	if source.ActorURI != actorURI {
		return fmt.Errorf("%w: unfollow by %s of follow owned by %s", domain.ErrActorMismatch, actorURI, source.ActorURI)
	}

	if err := database.DeleteFollowByURI(followURI); err != nil {
		return err
	}
	log.Printf("Inbox: Follow %s undone", followURI)
	return nil
}

// handleFollowActivity records an inbound follow and auto-accepts it.
func handleFollowActivity(data map[string]interface{}, remoteActor *domain.Identity, conf *util.AppConfig) error {
	targetURI := GetStrOrId(data["object"])
	target, err := ResolveIdentity(targetURI, false)
	if err != nil {
		return fmt.Errorf("follow target not found: %w", err)
	}
	if !target.Local {
		return fmt.Errorf("follow target %s is not local", targetURI)
	}

	followURI := GetStrOrId(data["id"])
	if err := ensureFollow(remoteActor, target, followURI); err != nil {
		return fmt.Errorf("failed to record follow: %w", err)
	}

	accept := &Activity{
		Context: activityContext,
		ID:      fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New()),
		Type:    "Accept",
		Actor:   target.ActorURI,
		Object: map[string]interface{}{
			"id":     followURI,
			"type":   "Follow",
			"actor":  remoteActor.ActorURI,
			"object": target.ActorURI,
		},
	}
	if err := DeliverDocument(remoteActor.InboxURI, accept, target); err != nil {
		return fmt.Errorf("failed to send Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// ensureFollow records a follow edge. A re-sent Follow arrives with a fresh
// activity id but is the same edge, so an existing row for the pair stands
// and the Accept goes out again.
func ensureFollow(remoteActor, target *domain.Identity, followURI string) error {
	database := db.GetDB()
	err, existing := database.ReadFollowBySourceTarget(remoteActor.Id, target.Id)
	if err == nil && existing != nil {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return database.CreateFollow(&domain.Follow{
		Id:        uuid.New(),
		SourceId:  remoteActor.Id,
		TargetId:  target.Id,
		URI:       followURI,
		Boosts:    true,
		Accepted:  true,
		CreatedAt: time.Now(),
	})
}

// handleAcceptActivity confirms one of our outbound follows.
func handleAcceptActivity(data map[string]interface{}) error {
	object, ok := data["object"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("accept without embedded object")
	}
	followURI, _ := object["id"].(string)
	if followURI == "" {
		return fmt.Errorf("accept object missing id")
	}

	database := db.GetDB()
	err, follow := database.ReadFollowByURI(followURI)
	if err != nil || follow == nil {
		log.Printf("Inbox: Accept for unknown follow %s, ignoring", followURI)
		return nil
	}
	if err := database.AcceptFollowByURI(followURI); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}
	log.Printf("Inbox: Follow %s was accepted", followURI)
	return nil
}
