package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"github.com/terry-lonesski/laravel-echo-server/internal/api/handlers"
	"github.com/terry-lonesski/laravel-echo-server/internal/api/middleware"
	"github.com/terry-lonesski/laravel-echo-server/internal/channel"
	"github.com/terry-lonesski/laravel-echo-server/internal/metrics"
	"github.com/terry-lonesski/laravel-echo-server/internal/services"
	"github.com/terry-lonesski/laravel-echo-server/internal/websocket"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// RouterOptions collects the router dependencies. RateLimiter may be nil,
// which disables handshake rate limiting.
type RouterOptions struct {
	Hub            *websocket.Hub
	Coordinator    *channel.Coordinator
	Upgrader       *gorilla.Upgrader
	Metrics        *metrics.Metrics
	RateLimiter    services.RateLimiter
	WSRateLimit    int
	JWTSecret      string
	AllowedOrigins []string
	DevMode        bool
	Logger         *logger.Logger
}

type Router struct {
	engine      *gin.Engine
	opts        RouterOptions
	wsHandler   *handlers.WSHandler
	appHandler  *handlers.AppHandler
	authMW      *middleware.AuthMiddleware
	rateLimitMW *middleware.RateLimitMiddleware
}

func NewRouter(opts RouterOptions) *Router {
	if !opts.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(opts.AllowedOrigins, opts.DevMode))
	engine.Use(middleware.LogApi(opts.Logger, "/health", "/metrics"))

	r := &Router{
		engine:     engine,
		opts:       opts,
		wsHandler:  handlers.NewWSHandler(opts.Hub, opts.Coordinator, opts.Upgrader),
		appHandler: handlers.NewAppHandler(opts.Hub, opts.Coordinator, opts.Logger),
		authMW:     middleware.NewAuthMiddleware(opts.JWTSecret),
	}
	if opts.RateLimiter != nil {
		r.rateLimitMW = middleware.NewRateLimitMiddleware(opts.RateLimiter, opts.Logger)
	}
	return r
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", handlers.Health)
	r.engine.GET("/metrics", gin.WrapH(r.opts.Metrics.Handler()))

	ws := []gin.HandlerFunc{r.wsHandler.HandleWebSocket}
	if r.rateLimitMW != nil && r.opts.WSRateLimit > 0 {
		ws = append([]gin.HandlerFunc{r.rateLimitMW.RateLimitIP(r.opts.WSRateLimit, time.Minute)}, ws...)
	}
	r.engine.GET("/ws", ws...)

	apps := r.engine.Group("/apps/:appId")
	apps.Use(r.authMW.RequireApp())
	{
		apps.GET("/status", r.appHandler.Status)
		apps.GET("/channels", r.appHandler.Channels)
		apps.GET("/channels/:channel", r.appHandler.Channel)
		apps.GET("/channels/:channel/users", r.appHandler.ChannelUsers)
		apps.POST("/events", r.appHandler.PublishEvent)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
