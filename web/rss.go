package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/feeds"

	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/util"
)

// GetRSS renders the newest public local playlists as an RSS feed.
func GetRSS(conf *util.AppConfig) (string, error) {
	database := db.GetDB()

	err, playlists := database.ReadRecentPlaylists(50)
	if err != nil {
		log.Println("Could not get playlists!", err)
		return "", errors.New("error retrieving playlists")
	}

	link := fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Playlists on %s", conf.Conf.SslDomain),
		Link:        &feeds.Link{Href: link},
		Description: "latest public playlists",
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, playlist := range *playlists {
		author := "unknown"
		if err, identity := database.ReadIdentityById(playlist.AuthorId); err == nil {
			author = identity.Username
		}
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      playlist.Id.String(),
				Title:   playlist.Name,
				Link:    &feeds.Link{Href: playlist.ObjectURI},
				Content: playlist.CreatedAt.Format(util.DateTimeFormat()),
				Author:  &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, conf.Conf.SslDomain)},
				Created: playlist.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single playlist as a one-item feed.
func GetRSSItem(conf *util.AppConfig, id uuid.UUID) (string, error) {
	database := db.GetDB()
	err, playlist := database.ReadPlaylistById(id)
	if err != nil || playlist == nil {
		log.Println("Could not get playlist!", err)
		return "", errors.New("error retrieving playlist by id")
	}

	author := "unknown"
	if err, identity := database.ReadIdentityById(playlist.AuthorId); err == nil {
		author = identity.Username
	}

	feed := &feeds.Feed{
		Title:       playlist.Name,
		Link:        &feeds.Link{Href: playlist.ObjectURI},
		Description: "single playlist",
		Author:      &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, conf.Conf.SslDomain)},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      playlist.Id.String(),
			Title:   playlist.Name,
			Link:    &feeds.Link{Href: playlist.ObjectURI},
			Content: playlist.CreatedAt.Format(util.DateTimeFormat()),
			Author:  &feeds.Author{Name: author, Email: fmt.Sprintf("%s@%s", author, conf.Conf.SslDomain)},
			Created: playlist.CreatedAt,
		},
	}
	return feed.ToRss()
}
