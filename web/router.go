package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/deemkeen/solopub/activitypub"
	"github.com/deemkeen/solopub/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Server wires the HTTP surface to the federation layer.
type Server struct {
	db        activitypub.Database
	conf      *util.AppConfig
	keys      *activitypub.Keys
	verifier  *activitypub.Verifier
	processor *activitypub.Processor
	publisher *activitypub.Publisher
}

func NewServer(db activitypub.Database, conf *util.AppConfig, keys *activitypub.Keys,
	verifier *activitypub.Verifier, processor *activitypub.Processor, publisher *activitypub.Publisher) *Server {
	return &Server{
		db:        db,
		conf:      conf,
		keys:      keys,
		verifier:  verifier,
		processor: processor,
		publisher: publisher,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for the inbox: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)

	// Max 1MB request body size for incoming activities
	maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024)

	g.GET("/", s.handleIndex)
	g.GET("/:username", s.handleActor)

	g.GET("/.well-known/webfinger", s.handleWebfinger)
	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Render(200, render.String{Format: GetNodeInfoIndex(s.conf)})
	})
	g.GET("/nodeinfo/2.1", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		doc, err := GetNodeInfo(s.db, s.conf)
		if err != nil {
			c.Status(500)
			return
		}
		c.Render(200, render.String{Format: doc})
	})

	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, s.handleInbox)
	g.GET("/outbox", s.handleOutbox)
	g.GET("/followers", s.handleFollowers)
	g.GET("/following", s.handleFollowing)
	g.GET("/notes/:id", s.handleNote)

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		rss, err := GetRSS(s.db, s.conf)
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
		rssItem, err := GetRSSItem(s.db, s.conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	// Local action endpoints, guarded by the shared secret
	actions := g.Group("/action", SecretAuthMiddleware(s.conf.Conf.Secret))
	actions.POST("/send", s.handleActionSend)
	actions.POST("/follow", s.handleActionFollow)
	actions.POST("/unfollow", s.handleActionUnfollow)

	return g
}

// Run starts the HTTP listener and blocks.
func (s *Server) Run() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	return s.Router().Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
}

func (s *Server) handleIndex(c *gin.Context) {
	c.JSON(200, gin.H{
		"actor":    activitypub.ActorIRI(s.conf),
		"software": "solopub",
		"version":  util.GetVersion(),
	})
}

// handleActor serves the actor document. Browsers asking for HTML get
// redirected to the profile pointer at the root.
func (s *Server) handleActor(c *gin.Context) {
	username := strings.TrimPrefix(c.Param("username"), "@")
	if username != s.conf.Conf.Username {
		c.JSON(404, gin.H{"error": "Not found"})
		return
	}

	accept := c.GetHeader("Accept")
	if strings.Contains(accept, "text/html") {
		c.Redirect(http.StatusFound, "/")
		return
	}

	actor, err := GetActor(s.conf, s.keys.PublicPEM())
	if err != nil {
		c.Status(500)
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(200, render.String{Format: actor})
}

func (s *Server) handleWebfinger(c *gin.Context) {
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")

	resource := c.Query("resource")
	if resource == "" || !strings.HasPrefix(resource, "acct:") {
		c.Render(404, render.String{Format: GetWebFingerNotFound()})
		return
	}
	resource = strings.TrimPrefix(resource, "acct:")

	resp, err := GetWebfinger(resource, s.conf)
	if err != nil {
		c.Render(404, render.String{Format: GetWebFingerNotFound()})
		return
	}
	c.Render(200, render.String{Format: resp})
}

// handleInbox verifies the HTTP signature, then runs the activity through
// the processor. Verification failures never reach state-mutating code.
func (s *Server) handleInbox(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.JSON(400, gin.H{"error": "Failed to read body"})
		return
	}

	actorURI, err := s.verifier.Verify(c.Request, body)
	if err != nil {
		log.Printf("Inbox: Verification failed: %v", err)
		switch {
		case errors.Is(err, activitypub.ErrActorUnresolvable):
			c.JSON(502, gin.H{"error": "Could not resolve signing actor"})
		case errors.Is(err, activitypub.ErrClockSkew):
			c.JSON(401, gin.H{"error": "Date header outside accepted window"})
		default:
			c.JSON(401, gin.H{"error": "Invalid signature"})
		}
		return
	}

	if err := s.processor.Process(actorURI, body); err != nil {
		log.Printf("Inbox: Failed to process activity: %v", err)
		switch {
		case errors.Is(err, activitypub.ErrMalformedActivity):
			c.JSON(400, gin.H{"error": "Malformed activity"})
		case errors.Is(err, activitypub.ErrSignatureInvalid):
			c.JSON(401, gin.H{"error": "Activity actor does not match signature"})
		default:
			c.JSON(500, gin.H{"error": "Failed to process activity"})
		}
		return
	}

	c.Status(http.StatusAccepted)
}

func (s *Server) handleOutbox(c *gin.Context) {
	page := 0
	if pageStr := c.Query("page"); pageStr != "" {
		parsed, err := strconv.Atoi(pageStr)
		if err != nil || parsed < 1 {
			c.JSON(400, gin.H{"error": "Invalid page"})
			return
		}
		page = parsed
	}

	doc, err := GetOutbox(s.db, page, s.conf)
	if err != nil {
		c.Status(500)
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(200, render.String{Format: doc})
}

func (s *Server) handleFollowers(c *gin.Context) {
	doc, err := GetFollowers(s.db, s.conf)
	if err != nil {
		c.Status(500)
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(200, render.String{Format: doc})
}

func (s *Server) handleFollowing(c *gin.Context) {
	doc, err := GetFollowing(s.db, s.conf)
	if err != nil {
		c.Status(500)
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(200, render.String{Format: doc})
}

func (s *Server) handleNote(c *gin.Context) {
	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(404, gin.H{"error": "Invalid note ID"})
		return
	}

	note, err := GetNoteObject(s.db, noteId, s.conf)
	if err != nil {
		c.JSON(404, gin.H{"error": "Note not found"})
		return
	}
	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(200, render.String{Format: note})
}

func (s *Server) handleActionSend(c *gin.Context) {
	var req struct {
		Content   string `json:"content"`
		InReplyTo string `json:"inReplyTo"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request body"})
		return
	}

	activity, err := s.publisher.CreatePost(req.Content, req.InReplyTo)
	if err != nil {
		log.Printf("Action: Failed to create post: %v", err)
		if errors.Is(err, activitypub.ErrMalformedActivity) {
			c.JSON(400, gin.H{"error": "Empty content"})
		} else {
			c.JSON(500, gin.H{"error": "Failed to create post"})
		}
		return
	}

	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(201, render.String{Format: activity.RawJSON})
}

func (s *Server) handleActionFollow(c *gin.Context) {
	actorURI, ok := s.bindActor(c)
	if !ok {
		return
	}

	activity, err := s.publisher.Follow(actorURI)
	if err != nil {
		log.Printf("Action: Failed to follow %s: %v", actorURI, err)
		switch {
		case errors.Is(err, activitypub.ErrAlreadyFollowing):
			c.JSON(409, gin.H{"error": "Already following"})
		case errors.Is(err, activitypub.ErrActorUnresolvable):
			c.JSON(502, gin.H{"error": "Could not resolve actor"})
		default:
			c.JSON(500, gin.H{"error": "Failed to follow"})
		}
		return
	}

	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(202, render.String{Format: activity.RawJSON})
}

func (s *Server) handleActionUnfollow(c *gin.Context) {
	actorURI, ok := s.bindActor(c)
	if !ok {
		return
	}

	activity, err := s.publisher.Unfollow(actorURI)
	if err != nil {
		log.Printf("Action: Failed to unfollow %s: %v", actorURI, err)
		switch {
		case errors.Is(err, activitypub.ErrNotFollowing):
			c.JSON(409, gin.H{"error": "Not following"})
		default:
			c.JSON(500, gin.H{"error": "Failed to unfollow"})
		}
		return
	}

	c.Header("Content-Type", "application/activity+json; charset=utf-8")
	c.Render(202, render.String{Format: activity.RawJSON})
}

func (s *Server) bindActor(c *gin.Context) (string, bool) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Actor == "" {
		c.JSON(400, gin.H{"error": "Missing actor"})
		return "", false
	}
	return req.Actor, true
}
