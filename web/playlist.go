package web

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/util"
)

// GetPlaylistObject renders a local playlist as an ActivityPub object, a
// Question when it carries a poll.
func GetPlaylistObject(id uuid.UUID) (error, string) {
	database := db.GetDB()
	err, playlist := database.ReadPlaylistById(id)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}
	err, author := database.ReadIdentityById(playlist.AuthorId)
	if err != nil {
		return err, `{"detail":"Not Found"}`
	}

	object := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           playlist.ObjectURI,
		"type":         "Note",
		"name":         playlist.Name,
		"attributedTo": author.ActorURI,
		"published":    util.FormatLDDate(playlist.CreatedAt),
	}

	if playlist.TypeData != nil {
		object["type"] = "Question"
		options := make([]map[string]interface{}, 0, len(playlist.TypeData.Options))
		for _, option := range playlist.TypeData.Options {
			options = append(options, map[string]interface{}{
				"name": option.Name,
				"type": option.Type,
				"replies": map[string]interface{}{
					"type":       "Collection",
					"totalItems": option.Votes,
				},
			})
		}
		if playlist.TypeData.Mode == domain.PollModeAnyOf {
			object["anyOf"] = options
		} else {
			object["oneOf"] = options
		}
		object["votersCount"] = playlist.TypeData.VoterCount
		if playlist.TypeData.EndTime != nil {
			object["endTime"] = util.FormatLDDate(*playlist.TypeData.EndTime)
		}
	}

	rendered, err := json.Marshal(object)
	if err != nil {
		return err, ""
	}
	return nil, string(rendered)
}

// tracklistEntry is one materialized track of the consumer-facing tracklist.
type tracklistEntry struct {
	Name        string `json:"name"`
	ArtistName  string `json:"artist_name"`
	ReleaseName string `json:"release_name,omitempty"`
	Number      int    `json:"number,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
}

// GetTracklist renders the playlist's materialized tracklist.
func GetTracklist(id uuid.UUID) (error, string) {
	database := db.GetDB()
	err, items := database.ReadItemsByPlaylist(id)
	if err != nil {
		return err, "[]"
	}

	tracks := []tracklistEntry{}
	for _, item := range domain.TracklistDelta(*items, time.Now()) {
		tracks = append(tracks, tracklistEntry{
			Name:        item.Name,
			ArtistName:  item.ArtistName,
			ReleaseName: item.ReleaseName,
			Number:      item.Number,
			ISRC:        item.ISRC,
		})
	}

	rendered, err := json.Marshal(tracks)
	if err != nil {
		return err, "[]"
	}
	return nil, string(rendered)
}
