package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/keygate/internal/config"
	"github.com/jmehdipour/keygate/internal/http/middleware"
	"github.com/jmehdipour/keygate/internal/repository"
	"github.com/jmehdipour/keygate/internal/service/credential"
	"github.com/jmehdipour/keygate/internal/sweeper"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP surface is built from. Events may be nil
// when ClickHouse is not configured; the reports routes are then not mounted.
type Deps struct {
	Config      config.Config
	Redis       *redis.Client
	Credentials *credential.Service
	Sweeper     *sweeper.Sweeper
	Events      repository.CHEventsRepository
	Log         *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	cfg := d.Config

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.INFO)
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", healthHandler(d.Redis))

	// client API
	authMW := middleware.APIKeyMiddleware(d.Credentials)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      cfg.Credentials.KeyPrefix + "rl:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.GET("/credential", credentialSummaryHandler())
	v1.GET("/credential/:apiKey", credentialSummaryHandler())

	// admin API
	guard := middleware.NewAdminGuard(d.Redis, middleware.AdminConfig{
		MasterKey:      cfg.Admin.MasterKey,
		AllowedIPs:     cfg.Admin.AllowedIPs,
		FailedAttempts: cfg.Admin.FailedAttempts,
		Window:         cfg.Admin.Window,
		Lockout:        cfg.Admin.Lockout,
		KeyPrefix:      cfg.Credentials.KeyPrefix,
	})

	admin := e.Group("/admin", middleware.AdminMiddleware(guard))
	admin.GET("/credentials", listCredentialsHandler(d.Credentials))
	admin.POST("/credentials", issueCredentialHandler(d.Credentials))
	admin.GET("/credentials/:id", getCredentialHandler(d.Credentials))
	admin.PUT("/credentials/:id", updateCredentialHandler(d.Credentials))
	admin.PATCH("/credentials/:id/activate", setActiveHandler(d.Credentials, true))
	admin.PATCH("/credentials/:id/deactivate", setActiveHandler(d.Credentials, false))
	admin.DELETE("/credentials/:id", purgeCredentialHandler(d.Credentials))

	if d.Sweeper != nil {
		admin.POST("/sweeps", runSweepHandler(d.Sweeper))
		admin.GET("/sweeps/stats", sweepStatsHandler(d.Sweeper))
	}

	if d.Events != nil {
		admin.GET("/reports/events", listEventsHandler(d.Events))
		admin.GET("/reports/events/summary", eventsSummaryHandler(d.Events))
	}

	return &Server{e: e, log: d.Log}
}

func healthHandler(rdb *redis.Client) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.e.ServeHTTP(w, r) }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
