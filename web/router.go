package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// NewRouter wires all HTTP routes. Federation endpoints are only
// mounted when ActivityPub is enabled in the config.
func NewRouter(database *db.DB, engine *activitypub.Engine, conf *util.AppConfig) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := GetRSS(database, conf, username)
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

		rssItem, err := GetRSSItem(database, conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	if conf.Conf.WithAp {
		mountFederation(g, database, engine, conf)
	}

	return g
}

func mountFederation(g *gin.Engine, database *db.DB, engine *activitypub.Engine, conf *util.AppConfig) {
	// Stricter rate limit for federation endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for inbound activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/notes/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		noteId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid note ID"})
			return
		}

		err, note := GetNoteObject(database, engine, noteId)
		if err != nil {
			c.JSON(404, gin.H{"error": "Note not found"})
		} else {
			c.Render(200, render.String{Format: note})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, actor := GetActor(database, c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	// Inbound deliveries are captured as durable jobs and verified by
	// the worker; the transport only checks that the body is readable.
	handleInbox := func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			log.Printf("Inbox: Failed to read body: %v", err)
			c.Status(400)
			return
		}

		if err := engine.EnqueueInboxDelivery(c.Request, body); err != nil {
			log.Printf("Inbox: Failed to enqueue delivery: %v", err)
			c.Status(500)
			return
		}
		c.Status(202)
	}

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, handleInbox)
	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, handleInbox)

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		page := ParsePageParam(c.Query("page"))
		err, outbox := GetOutbox(database, engine, c.Param("actor"), page, conf)
		if err != nil {
			c.Render(404, render.String{Format: outbox})
		} else {
			c.Render(200, render.String{Format: outbox})
		}
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, collection := GetFollowers(database, engine, c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, collection := GetFollowing(database, engine, c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: collection})
		} else {
			c.Render(200, render.String{Format: collection})
		}
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}

		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
		err, resp := GetWebfinger(database, resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})
}

// Router starts the HTTP server and blocks.
func Router(database *db.DB, engine *activitypub.Engine, conf *util.AppConfig) error {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := NewRouter(database, engine, conf)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}
