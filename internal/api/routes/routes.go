package routes

import (
	"io"
	"time"

	"collab-service/internal/api/handlers"
	"collab-service/internal/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the collaborators the router wires together.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	ConnectLimit   int
	ConnectWindow  time.Duration
	APILimit       int
	APIWindow      time.Duration
	RateLimiter    middleware.RateLimitChecker
	Upgrader       handlers.Upgrader
	Health         handlers.HealthSource
	Friends        handlers.FriendGraph
	Presence       handlers.FriendPresence
	Gatherer       prometheus.Gatherer
	LogOutput      io.Writer
}

type Router struct {
	engine        *gin.Engine
	options       Options
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
	friendHandler *handlers.FriendHandler
	rateLimitMW   *middleware.RateLimitMiddleware
	authMW        *middleware.AuthMiddleware
}

func NewRouter(options Options) *Router {
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(options.AllowedOrigins))
	if options.LogOutput != nil {
		engine.Use(middleware.LogApi(options.LogOutput))
	}

	if options.Gatherer == nil {
		options.Gatherer = prometheus.DefaultGatherer
	}

	return &Router{
		engine:        engine,
		options:       options,
		wsHandler:     handlers.NewWSHandler(options.Upgrader),
		healthHandler: handlers.NewHealthHandler(options.Health),
		friendHandler: handlers.NewFriendHandler(options.Friends, options.Presence),
		rateLimitMW:   middleware.NewRateLimitMiddleware(options.RateLimiter),
		authMW:        middleware.NewAuthMiddleware(options.JWTSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.healthHandler.Health)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.options.Gatherer, promhttp.HandlerOpts{})))

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint with authentication and connection-attempt limiting
	wsChain := []gin.HandlerFunc{r.authMW.RequireAuth()}
	if r.options.RateLimiter != nil && r.options.ConnectLimit > 0 {
		wsChain = append(wsChain, r.rateLimitMW.WebSocketRateLimit(r.options.ConnectLimit, r.options.ConnectWindow))
	}
	wsChain = append(wsChain, r.wsHandler.HandleWebSocket)
	api.GET("/ws", wsChain...)

	// Authenticated routes
	friends := api.Group("/friends")
	if r.options.RateLimiter != nil && r.options.APILimit > 0 {
		friends.Use(r.rateLimitMW.RateLimitIP(r.options.APILimit, r.options.APIWindow))
	}
	friends.Use(r.authMW.RequireAuth())
	{
		friends.GET("", r.friendHandler.GetFriends)
		friends.POST("", r.friendHandler.AddFriend)
		friends.DELETE("/:id", r.friendHandler.RemoveFriend)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
