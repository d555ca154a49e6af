// Package httpapi exposes the gin HTTP surface: session endpoints for
// principals, service administration and token validation for services.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/gatekeeper/internal/clock"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/obs"
	"github.com/and161185/gatekeeper/internal/service"
)

// APIVersion is reported by the API info endpoint.
const APIVersion = "1.0.0"

// Deps collects the router's collaborators.
type Deps struct {
	Auth      service.AuthService
	Admin     service.ServiceAdmin
	Validator service.Validator
	Services  ServiceAuthenticator
	Metrics   *obs.Metrics
	Log       *zap.Logger
	Clock     clock.Clock

	CORSOrigins []string
	// RateLimiter throttles /api per client IP; nil disables it. The caller
	// runs its sweeper.
	RateLimiter *RateLimiter
}

// NewRouter wires routes and middleware.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	h := &handlers{auth: d.Auth, admin: d.Admin, validator: d.Validator, log: d.Log, now: d.Clock.Now}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	r.Use(CORS(d.CORSOrigins))

	api := r.Group("/api")
	api.Use(d.RateLimiter.Handler())

	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Gatekeeper API", "version": APIVersion})
	})
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"service":   "gatekeeper",
			"timestamp": d.Clock.Now().UTC().Format(time.RFC3339),
		})
	})

	requireAccess := RequireAccess(d.Auth)

	auth := api.Group("/auth")
	{
		auth.POST("/register", h.register)
		auth.POST("/login", h.login)
		auth.POST("/refresh-token", h.refresh)
		auth.POST("/logout", h.logout)
		auth.POST("/logout-all", requireAccess, h.logoutAll)
		auth.GET("/check-token", requireAccess, h.checkToken)
		auth.GET("/profile", requireAccess, h.profile)
	}

	services := api.Group("/services", requireAccess, RequireRole(model.RoleAdmin))
	{
		services.POST("", h.createService)
		services.GET("", h.listServices)
		services.GET("/:id", h.getService)
		services.PUT("/:id", h.updateService)
		services.POST("/:id/regenerate-keys", h.regenerateKeys)
		services.DELETE("/:id", h.deleteService)
	}

	validate := api.Group("/validate", RequireAPIKey(d.Services))
	{
		validate.POST("/token", h.validateToken)
		validate.POST("/roles", h.checkRoles)
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Not found")
	})
	return r
}

// Run serves handler on addr until ctx is done, then shuts down within grace.
func Run(ctx context.Context, addr string, handler http.Handler, grace time.Duration, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, received := <-errCh:
		if received {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
