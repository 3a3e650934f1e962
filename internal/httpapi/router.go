// Package httpapi exposes the gateway over HTTP: a small machine API
// guarded by a static key, a token-authenticated operator dashboard,
// and open health/metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wagate/internal/auth"
	"wagate/internal/conn"
	"wagate/internal/dispatch"
	"wagate/internal/msglog"
	"wagate/internal/status"
)

// ConnectionManager is the session surface the handlers need. The conn
// manager implements it; tests substitute fakes.
type ConnectionManager interface {
	State() conn.State
	Phase() status.Phase
	IsReady() bool
	PairingArtifact() *conn.PairingArtifact
	Logout(ctx context.Context) error
}

// Dispatcher is the outbound message surface the handlers need.
type Dispatcher interface {
	SendMessage(ctx context.Context, target, body string) dispatch.Result
	SendBroadcast(ctx context.Context, targets []string, body string) []dispatch.Result
}

// Deps carries everything the router needs, wired by the daemon.
type Deps struct {
	Manager    ConnectionManager
	Dispatcher Dispatcher
	Log        *msglog.Ring
	Tokens     *auth.Manager
	Limiter    *auth.LoginLimiter
	Logger     *zap.Logger

	APIKey            string
	DashboardUsername string
	DashboardPassword string
	CountryPrefix     string
}

// NewRouter builds the gin engine with all gateway routes registered.
func NewRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestLogger(deps.Logger), recovery(deps.Logger))

	h := &handlers{deps: deps}

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/auth/login", h.login)

	keyed := r.Group("/", auth.RequireAPIKey(deps.APIKey))
	keyed.POST("/send", h.send)
	keyed.POST("/api/send", h.send)
	keyed.POST("/broadcast", h.broadcast)
	keyed.GET("/status", h.sessionStatus)

	dash := r.Group("/dashboard/api", auth.RequireToken(deps.Tokens))
	dash.GET("/status", h.sessionStatus)
	dash.GET("/qr", h.pairingQR)
	dash.GET("/logs", h.recentLogs)
	dash.POST("/send", h.send)
	dash.POST("/logout", h.sessionLogout)

	registerDashboardPage(r)

	return r
}

// requestLogger tags each request with an ID and logs the outcome.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		c.Header("X-Request-ID", id)

		c.Next()

		logger.Info("http request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// recovery converts handler panics into a JSON 500 instead of gin's
// default HTML page.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panic", zap.Any("panic", rec))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
