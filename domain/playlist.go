package domain

import (
	"github.com/google/uuid"
	"time"
)

// Playlist is a content object with its own lifecycle (outdated/updated),
// independent of the interactions targeting it.
type Playlist struct {
	Id        uuid.UUID
	ObjectURI string
	AuthorId  uuid.UUID
	Name      string
	Local     bool
	Public    bool
	// Structured payload for typed playlists, nil for plain ones
	TypeData *QuestionData
	// Live interaction tallies keyed by interaction type, plus a total
	Stats        map[string]int
	StatsUpdated *time.Time
	State        string
	StateChanged time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Playlist lifecycle states. Outdated playlists have stale stats; the
// scheduler recomputes and parks them in updated until the next interaction.
const (
	PlaylistStateOutdated = "outdated"
	PlaylistStateUpdated  = "updated"
)

// PlaylistItem is one add/delete operation on a playlist's tracklist. The
// materialized tracklist is the delta of additions minus deletions.
type PlaylistItem struct {
	Id          uuid.UUID
	PlaylistId  uuid.UUID
	IdentityId  uuid.UUID
	Operation   string // "add" or "delete"
	Name        string
	ArtistName  string
	ReleaseName string
	Number      int
	ISRC        string
	UPC         string
	ISNI        string
	CreatedAt   time.Time
}

const (
	ItemOperationAdd    = "add"
	ItemOperationDelete = "delete"
)

// TracklistDelta replays items created up to datum and returns the surviving
// additions. A delete removes prior additions with the same ISRC unless every
// other metadata field differs.
func TracklistDelta(items []PlaylistItem, datum time.Time) []PlaylistItem {
	var delta []PlaylistItem
	for _, item := range items {
		if item.CreatedAt.After(datum) {
			continue
		}
		switch item.Operation {
		case ItemOperationAdd:
			delta = append(delta, item)
		case ItemOperationDelete:
			kept := delta[:0]
			for _, prev := range delta {
				if prev.ISRC != item.ISRC || (prev.Name != item.Name &&
					prev.ArtistName != item.ArtistName &&
					prev.ReleaseName != item.ReleaseName &&
					prev.UPC != item.UPC &&
					prev.ISNI != item.ISNI) {
					kept = append(kept, prev)
				}
			}
			delta = kept
		}
	}
	return delta
}
