package httpapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/gatekeeper/internal/authz"
	"github.com/and161185/gatekeeper/internal/ids"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/token"
)

const (
	claimsKey      = "accessClaims"
	accessTokenKey = "accessToken"
	serviceKey     = "service"
	requestIDKey   = "request_id"
)

// AccessVerifier verifies access tokens; service.AuthService satisfies it.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*token.Claims, error)
}

// ServiceAuthenticator resolves service identities; *gateway.Gateway satisfies it.
type ServiceAuthenticator interface {
	AuthenticateRequest(ctx context.Context, apiKey, origin, referer string) (*model.Service, error)
}

// RequestLogger logs each request with latency and status.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = ids.New(start)
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

// RateLimiter enforces a per-client-IP request budget.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idle    time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for each client, refilled
// continuously. It returns nil when requests is not positive.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		idle:    window,
		clients: make(map[string]*clientLimiter),
	}
}

// Handler returns the gin middleware; a nil limiter lets everything through.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if !r.get(c.ClientIP()).Allow() {
			fail(c, http.StatusTooManyRequests, "Too many requests, please try again later.")
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	l := rate.NewLimiter(r.limit, r.burst)
	r.clients[key] = &clientLimiter{limiter: l, lastSeen: now}
	return l
}

// Sweep forgets clients idle for longer than the window as of now and
// returns how many were removed.
func (r *RateLimiter) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.clients {
		if now.Sub(e.lastSeen) > r.idle {
			delete(r.clients, k)
			n++
		}
	}
	return n
}

// Run sweeps idle clients once per window until ctx is done.
func (r *RateLimiter) Run(ctx context.Context) {
	if r == nil {
		return
	}
	t := time.NewTicker(r.idle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			r.Sweep(now)
		}
	}
}

// CORS echoes allowed browser origins with credentials. "*" allows any origin.
func CORS(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		_, listed := set[strings.ToLower(origin)]
		if wildcard || listed {
			h := c.Writer.Header()
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-API-Key,X-Request-ID")
			h.Set("Access-Control-Max-Age", "600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "Access denied. No token provided."
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", "Invalid token format. Use Bearer <token>"
	}
	return strings.TrimSpace(parts[1]), ""
}

// RequireAccess verifies the bearer access token and attaches its claims.
func RequireAccess(v AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, problem := bearerToken(c.GetHeader("Authorization"))
		if problem != "" {
			fail(c, http.StatusUnauthorized, problem)
			return
		}
		claims, err := v.VerifyAccess(c.Request.Context(), raw)
		if err != nil {
			status, msg := statusFor(err)
			fail(c, status, msg)
			return
		}
		c.Set(claimsKey, claims)
		c.Set(accessTokenKey, raw)
		c.Next()
	}
}

// RequireRole admits callers whose verified token carries any of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			fail(c, http.StatusUnauthorized, "Access denied. User not authenticated.")
			return
		}
		if !authz.HasAnyRole(claims.Roles, roles) {
			fail(c, http.StatusForbidden, "Access denied. Insufficient privileges.")
			return
		}
		c.Next()
	}
}

// RequireAPIKey authenticates the calling service by X-API-Key and origin.
func RequireAPIKey(auth ServiceAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if key == "" {
			fail(c, http.StatusUnauthorized, "Access denied. No API key provided.")
			return
		}
		svc, err := auth.AuthenticateRequest(c.Request.Context(), key, c.GetHeader("Origin"), c.GetHeader("Referer"))
		if err != nil {
			status, msg := statusFor(err)
			fail(c, status, msg)
			return
		}
		c.Set(serviceKey, svc)
		c.Next()
	}
}

// ClaimsFrom returns claims attached by RequireAccess.
func ClaimsFrom(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}

// ServiceFrom returns the service attached by RequireAPIKey.
func ServiceFrom(c *gin.Context) (*model.Service, bool) {
	v, ok := c.Get(serviceKey)
	if !ok {
		return nil, false
	}
	svc, ok := v.(*model.Service)
	return svc, ok
}
