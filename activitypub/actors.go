package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/util"
)

// actorCacheSize bounds the hot identity cache; the database remains the
// source of truth.
const actorCacheSize = 2048

var actorCache, _ = lru.New2Q[string, *domain.Identity](actorCacheSize)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Featured          string      `json:"featured"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// FetchRemoteActor fetches an actor document from a remote server and stores
// the resulting identity.
func FetchRemoteActor(actorURI string) (*domain.Identity, error) {
	req, err := http.NewRequest("GET", actorURI, nil)
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
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	identity := &domain.Identity{
		Id:                    uuid.New(),
		Username:              actor.PreferredUsername,
		Domain:                domainName,
		ActorURI:              actor.ID,
		Local:                 false,
		DisplayName:           actor.Name,
		InboxURI:              actor.Inbox,
		SharedInboxURI:        actor.Endpoints.SharedInbox,
		OutboxURI:             actor.Outbox,
		FeaturedCollectionURI: actor.Featured,
		PublicKeyPem:          actor.PublicKey.PublicKeyPem,
		AvatarURL:             actor.Icon.URL,
		CreatedAt:             time.Now(),
		LastFetchedAt:         time.Now(),
	}

	database := db.GetDB()
	if err := database.CreateIdentity(identity); err != nil {
		// Already known, refresh the mutable fields instead
		if err := database.UpdateIdentity(identity); err != nil {
			return nil, fmt.Errorf("failed to store identity: %w", err)
		}
		err, stored := database.ReadIdentityByActorURI(actor.ID)
		if err != nil {
			return nil, err
		}
		identity = stored
	}

	actorCache.Add(identity.ActorURI, identity)
	return identity, nil
}

// ResolveIdentity returns the identity for an actor URI, consulting the
// in-process cache, then the database, then (if create is set) the remote
// server. Cached remote identities are refreshed after 24 hours.
func ResolveIdentity(actorURI string, create bool) (*domain.Identity, error) {
	if cached, ok := actorCache.Get(actorURI); ok {
		if cached.Local || time.Since(cached.LastFetchedAt) < 24*time.Hour {
			return cached, nil
		}
	}

	database := db.GetDB()
	err, stored := database.ReadIdentityByActorURI(actorURI)
	if err == nil && stored != nil {
		if stored.Local || time.Since(stored.LastFetchedAt) < 24*time.Hour {
			actorCache.Add(actorURI, stored)
			return stored, nil
		}
	}

	if !create {
		if stored != nil {
			return stored, nil
		}
		return nil, fmt.Errorf("identity %s: %w", actorURI, domain.ErrNotFound)
	}

	fetched, err := FetchRemoteActor(actorURI)
	if err != nil {
		if stored != nil {
			// Stale beats gone when the remote server is unreachable
			log.Printf("Actors: refresh of %s failed, using stale record: %v", actorURI, err)
			return stored, nil
		}
		return nil, err
	}
	return fetched, nil
}

// EnsureInstanceActor creates the instance's service actor on first start.
// It owns the instance keypair and fronts webfinger lookups for the host.
func EnsureInstanceActor(conf *util.AppConfig) (*domain.Identity, error) {
	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, util.Name)

	database := db.GetDB()
	err, existing := database.ReadIdentityByActorURI(actorURI)
	if err == nil && existing != nil {
		return existing, nil
	}

	keys := util.GeneratePemKeypair()
	identity := &domain.Identity{
		Id:                    uuid.New(),
		Username:              util.Name,
		Domain:                conf.Conf.SslDomain,
		ActorURI:              actorURI,
		Local:                 true,
		DisplayName:           util.GetNameAndVersion(),
		InboxURI:              actorURI + "/inbox",
		OutboxURI:             actorURI + "/outbox",
		FeaturedCollectionURI: actorURI + "/collections/featured",
		PublicKeyPem:          keys.Public,
		PrivateKeyPem:         keys.Private,
		CreatedAt:             time.Now(),
		LastFetchedAt:         time.Now(),
	}
	if err := database.CreateIdentity(identity); err != nil {
		return nil, err
	}
	log.Printf("Actors: created instance actor %s", actorURI)
	return identity, nil
}

// extractDomain extracts the host from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}
