package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"

	"github.com/cargolane/notify-core/internal/registry"
	"github.com/cargolane/notify-core/internal/token"
	"github.com/cargolane/notify-core/internal/util"
)

// Server is the notification gateway: it authenticates the bearer, proxies
// the notification REST API to the upstream backend and relays the upstream
// push stream to connected clients.
type Server struct {
	router         *gin.Engine
	config         *util.Config
	tokenMaker     token.Maker
	restyClient    *resty.Client
	streamClient   *http.Client
	streamRegistry registry.Registry
}

// NewServer creates a new HTTP server and set up routing.
func NewServer(config *util.Config, streamRegistry registry.Registry) (*Server, error) {
	// Create a new JWT token maker
	tokenMaker, err := token.NewJWTMaker(config.TokenSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token maker: %w", err)
	}
	log.Info().Msg("Token maker created successfully ✅")

	// Resty client for the upstream REST calls
	restyClient := resty.New().
		SetBaseURL(config.UpstreamBaseURL).
		SetTimeout(config.UpstreamRequestTimeout)
	log.Info().Msg("Resty client created successfully ✅")

	// Separate plain client for the long-lived stream: no overall timeout,
	// but a bounded handshake so a dead upstream fails fast.
	streamClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}

	server := &Server{
		config:         config,
		tokenMaker:     tokenMaker,
		restyClient:    restyClient,
		streamClient:   streamClient,
		streamRegistry: streamRegistry,
	}

	server.setupRouter()
	return server, nil
}

// setupRouter configures the HTTP server routes.
func (server *Server) setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	v1 := router.Group("/v1")

	notifications := v1.Group("/notifications")
	notifications.Use(authMiddleware(server.tokenMaker))

	// The stream route is exempt from the request rate limit: one long-lived
	// request per connection, capped by the stream registry instead.
	notifications.GET("/stream", server.streamNotifications)

	rest := notifications.Group("")
	rest.Use(rateLimitMiddleware())

	rest.GET("", server.listNotifications)
	rest.GET("/stats/summary", server.getNotificationStats)
	rest.GET("/preferences", server.getPreferences)
	rest.PUT("/preferences", server.updatePreferences)
	rest.POST("/mark-all-read", server.markAllNotificationsRead)
	rest.GET("/:id", server.getNotification)
	rest.PATCH("/:id/read", server.markNotificationRead)
	rest.DELETE("/:id", server.deleteNotification)

	server.router = router
	return router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	return server.router.Run(address)
}
