package activitypub

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/stator"
)

const playlistsTable = "playlists"

var playlistGraph = buildPlaylistGraph()

// PlaylistGraph returns the playlist lifecycle graph. A playlist bounces
// between outdated and updated: every interaction flags it outdated, the
// scheduler recomputes its stats and parks it in updated.
func PlaylistGraph() *stator.Graph {
	return playlistGraph
}

func buildPlaylistGraph() *stator.Graph {
	graph, err := stator.NewGraph("playlist", playlistsTable, map[string]stator.StateDef{
		domain.PlaylistStateOutdated: {Initial: true, TryInterval: 300 * time.Second},
		domain.PlaylistStateUpdated:  {ExternallyProgressed: true},
	})
	if err != nil {
		panic(err)
	}
	graph.AddTransition(domain.PlaylistStateOutdated, domain.PlaylistStateUpdated)
	graph.AddTransition(domain.PlaylistStateUpdated, domain.PlaylistStateOutdated)
	graph.OnState(domain.PlaylistStateOutdated, handleOutdatedPlaylist)
	return graph
}

// handleOutdatedPlaylist recomputes the playlist's interaction stats, and
// for local polls recounts the option tallies from stored votes. Remote
// polls keep the tallies reported by their origin server.
func handleOutdatedPlaylist(id string) (string, error) {
	playlistId, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}

	database := db.GetDB()
	err, playlist := database.ReadPlaylistById(playlistId)
	if err != nil {
		return "", err
	}

	counts, err := database.CountInteractionsByType(playlistId)
	if err != nil {
		return "", err
	}
	stats := make(map[string]int, len(counts)+1)
	total := 0
	for interactionType, count := range counts {
		stats[string(interactionType)] = count
		total += count
	}
	stats["total"] = total

	if playlist.Local && playlist.TypeData != nil {
		if err := recountLocalPoll(database, playlist); err != nil {
			return "", err
		}
	}

	if err := database.UpdatePlaylistStats(playlistId, stats, time.Now()); err != nil {
		return "", err
	}
	log.Printf("Playlists: recomputed stats for %s (%d interactions)", id, total)
	return domain.PlaylistStateUpdated, nil
}

// recountLocalPoll derives option tallies and the voter count live from the
// stored vote interactions.
func recountLocalPoll(database *db.DB, playlist *domain.Playlist) error {
	votesByValue, err := database.CountVotesByValue(playlist.Id)
	if err != nil {
		return err
	}
	voters, err := database.CountDistinctVoters(playlist.Id)
	if err != nil {
		return err
	}

	for i := range playlist.TypeData.Options {
		playlist.TypeData.Options[i].Votes = votesByValue[playlist.TypeData.Options[i].Name]
	}
	playlist.TypeData.VoterCount = voters

	return database.UpdatePlaylistTypeData(playlist.Id, playlist.TypeData)
}
