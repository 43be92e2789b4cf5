package http

import (
	"context"
	nethttp "net/http"
	"strings"

	"github.com/dkeye/skillswap-relay/internal/adapters/signal"
	"github.com/dkeye/skillswap-relay/internal/app/orch"
	"github.com/dkeye/skillswap-relay/internal/auth"
	"github.com/dkeye/skillswap-relay/internal/config"
	"github.com/dkeye/skillswap-relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable anonymous token kept
// in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// IdentityMiddleware resolves the caller identity. With a verifier the
// caller must present a valid bearer token (header, or ?token= for browser
// WebSockets); without one the anonymous client token stands in.
func IdentityMiddleware(verifier *auth.JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Set(signal.UserContextKey, c.GetString(clientTokenKey))
			c.Next()
			return
		}
		tok := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tok == "" || tok == c.GetHeader("Authorization") {
			tok = c.Query("token")
		}
		uid, err := verifier.Verify(tok)
		if err != nil {
			log.Info().Err(err).Str("module", "adapters.http").Msg("rejected identity token")
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(signal.UserContextKey, uid)
		c.Next()
	}
}

type Deps struct {
	Orch     *orch.Orchestrator
	Gatherer prometheus.Gatherer
	WebRTC   webrtc.Configuration
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	var verifier *auth.JWT
	if cfg.JWTSecret != "" {
		verifier = auth.New(cfg.JWTSecret)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok", "connections": deps.Orch.Registry.Count()})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Bool("jwt", verifier != nil).Msg("router setup")

	api := r.Group("/api")
	api.Use(IdentityMiddleware(verifier))

	ctrl := signal.NewSignalWSController(deps.Orch, signal.OptionsFrom(cfg))
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString(signal.UserContextKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/ice-servers", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"iceServers": deps.WebRTC.ICEServers})
	})

	// Diagnostics only; nothing here changes membership.
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"rooms": deps.Orch.ListRooms()})
	})
	api.GET("/rooms/:id", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, deps.Orch.RoomInfo(domain.RoomID(c.Param("id"))))
	})

	return r
}
