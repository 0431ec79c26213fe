package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkoval/Onecast/internal/adapters/signal"
	"github.com/dkoval/Onecast/internal/app"
	"github.com/dkoval/Onecast/internal/config"
	"github.com/dkoval/Onecast/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware assigns every browser a stable session id cookie;
// the id doubles as the signaling session id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("OnecastSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// GET /api/broadcast — current broadcast state
	api.GET("/broadcast", func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Registry.Snapshot())
	})

	// DELETE /api/broadcast — administratively stop the whole broadcast
	api.DELETE("/broadcast", func(c *gin.Context) {
		st := coord.Registry.Snapshot()
		if !st.PresenterActive {
			c.Status(http.StatusNoContent)
			return
		}
		coord.Stop(c.Request.Context(), core.SessionID(st.PresenterID))
		c.Status(http.StatusNoContent)
	})

	// GET /api/me — the caller's part in the broadcast, if any
	api.GET("/me", func(c *gin.Context) {
		sid := core.SessionID(c.GetString("client_token"))
		role, ok := coord.Registry.RoleOf(sid)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true, "role": role})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
