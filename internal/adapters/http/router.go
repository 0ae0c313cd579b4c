package http

import (
	"context"
	"net/http"

	"github.com/dkeye/SpeakInTurn/internal/app/moderator"
	"github.com/dkeye/SpeakInTurn/internal/app/participant"
	"github.com/dkeye/SpeakInTurn/internal/config"
	"github.com/dkeye/SpeakInTurn/internal/core"
	"github.com/dkeye/SpeakInTurn/internal/domain"
	"github.com/dkeye/SpeakInTurn/internal/status"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Participant is the user intent surface of the participant role.
type Participant interface {
	Join()
	Leave()
	StatusCheck()
	Snapshot() participant.Snapshot
}

// Moderator is the user intent surface of the moderator role.
type Moderator interface {
	GoLive()
	Activate(id domain.ParticipantID)
	StopActive()
	Shutdown()
	Snapshot() moderator.Snapshot
}

const (
	sessionName    = "SpeakInTurnSessions"
	clientTokenKey = "client_token"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps one token per UI client in the cookie session
// and exposes it on the gin context. Must run after sessions.Sessions.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func newEngine(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	return r
}

// eventsHandler upgrades the request and subscribes the socket to the hub
// under the caller's client token.
func eventsHandler(ctx context.Context, hub *status.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := core.SessionID(c.GetString(clientTokenKey))
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Msg("events subscriber")
		hub.Subscribe(ctx, sid, ws)
	}
}

// SetupParticipantRouter exposes the participant intents.
func SetupParticipantRouter(ctx context.Context, cfg *config.Config, hub *status.Hub, p Participant) *gin.Engine {
	r := newEngine(cfg)
	limiter := NewClientRateLimiter(cfg.StatusCheckLimit, cfg.StatusCheckInterval)

	api := r.Group("/api")
	api.GET("/ws/events", eventsHandler(ctx, hub))
	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Snapshot())
	})
	api.POST("/queue", func(c *gin.Context) {
		p.Join()
		accepted(c)
	})
	api.POST("/leave", func(c *gin.Context) {
		p.Leave()
		accepted(c)
	})
	api.POST("/status-check", func(c *gin.Context) {
		if !limiter.Allow(c.GetString(clientTokenKey)) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		p.StatusCheck()
		accepted(c)
	})

	log.Info().Str("module", "adapters.http").Str("role", string(domain.RoleParticipant)).Msg("router setup")
	return r
}

// SetupModeratorRouter exposes the moderator intents.
func SetupModeratorRouter(ctx context.Context, cfg *config.Config, hub *status.Hub, m Moderator) *gin.Engine {
	r := newEngine(cfg)

	api := r.Group("/api")
	api.GET("/ws/events", eventsHandler(ctx, hub))
	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Snapshot())
	})
	api.POST("/live", func(c *gin.Context) {
		m.GoLive()
		accepted(c)
	})
	api.POST("/activate/:id", func(c *gin.Context) {
		id := domain.ParticipantID(c.Param("id"))
		if err := id.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		m.Activate(id)
		accepted(c)
	})
	api.POST("/stop", func(c *gin.Context) {
		m.StopActive()
		accepted(c)
	})
	api.POST("/shutdown", func(c *gin.Context) {
		m.Shutdown()
		accepted(c)
	})

	log.Info().Str("module", "adapters.http").Str("role", string(domain.RoleModerator)).Msg("router setup")
	return r
}
