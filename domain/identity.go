package domain

import (
	"github.com/google/uuid"
	"time"
)

// Identity represents a local or remote actor. Remote identities are cached
// copies created on first reference and refreshed lazily.
type Identity struct {
	Id                    uuid.UUID
	Username              string
	Domain                string
	ActorURI              string
	Local                 bool
	DisplayName           string
	InboxURI              string
	SharedInboxURI        string
	OutboxURI             string
	FeaturedCollectionURI string
	PublicKeyPem          string
	PrivateKeyPem         string // only set for local identities
	AvatarURL             string
	CreatedAt             time.Time
	LastFetchedAt         time.Time
}

// Follow represents a directed follow edge between identities.
// Source follows Target; fan-out enumerates the inbound follows of the
// acting identity (rows where Target is the actor).
type Follow struct {
	Id        uuid.UUID
	SourceId  uuid.UUID
	TargetId  uuid.UUID
	URI       string // ActivityPub Follow activity URI (empty for local follows)
	Boosts    bool   // whether boosts are delivered to the follower
	Accepted  bool
	CreatedAt time.Time
}

// Block represents a directed block edge. Mute blocks are silent and do not
// remove the target from fan-out.
type Block struct {
	Id        uuid.UUID
	SourceId  uuid.UUID
	TargetId  uuid.UUID
	Mute      bool
	Active    bool
	CreatedAt time.Time
}
