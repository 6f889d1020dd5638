package web

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/halvdan/waxwing/activitypub"
	"github.com/halvdan/waxwing/db"
	"github.com/halvdan/waxwing/domain"
	"github.com/halvdan/waxwing/util"
)

func Router(conf *util.AppConfig) error {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		rss, err := GetRSS(conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		feedId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	g.GET("/playlists/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		playlistId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid playlist ID"})
			return
		}

		err, object := GetPlaylistObject(playlistId)
		if err != nil {
			c.Render(404, render.String{Format: object})
		} else {
			c.Render(200, render.String{Format: object})
		}
	})

	g.GET("/playlists/:id/tracks", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		playlistId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid playlist ID"})
			return
		}

		err, tracks := GetTracklist(playlistId)
		if err != nil {
			c.Render(404, render.String{Format: "[]"})
		} else {
			c.Render(200, render.String{Format: tracks})
		}
	})

	g.GET("/playlists/:id/poll", func(c *gin.Context) {
		handlePollSummary(c)
	})

	// Endpoints for the ActivityPub functionality
	if conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

		g.GET("/users/:actor", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := GetActor(c.Param("actor"), conf)
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		// The inbox handler resolves everything from the activity itself, so
		// the shared and per-user inboxes share one implementation
		inboxHandler := func(c *gin.Context) {
			activitypub.HandleInbox(c.Writer, c.Request, conf)
		}
		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, inboxHandler)
		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, inboxHandler)

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, followers := GetActorFollowers(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: followers})
			} else {
				c.Render(200, render.String{Format: followers})
			}
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				resource = strings.TrimPrefix(resource, "acct:")
				resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
				err, resp := GetWebfinger(resource, conf)
				if err != nil {
					c.Render(404, render.String{Format: GetWebFingerNotFound()})
				} else {
					c.Render(200, render.String{Format: resp})
				}
			}
		})
	}

	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}

// handlePollSummary renders the consumer-facing poll JSON. The optional
// username query scopes voted/own_votes to a local viewer.
func handlePollSummary(c *gin.Context) {
	c.Header("Content-Type", "application/json; charset=utf-8")

	playlistId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Invalid playlist ID"})
		return
	}

	database := db.GetDB()
	err, playlist := database.ReadPlaylistById(playlistId)
	if err != nil {
		c.JSON(404, gin.H{"error": "Playlist not found"})
		return
	}

	var viewer *domain.Identity
	if username := c.Query("username"); username != "" {
		if err, identity := database.ReadIdentityByUsername(username); err == nil {
			viewer = identity
		}
	}

	summary, err := activitypub.PollSummary(playlist, viewer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Playlist is not a poll"})
			return
		}
		c.JSON(500, gin.H{"error": "Failed to build poll summary"})
		return
	}

	c.JSON(200, summary)
}
