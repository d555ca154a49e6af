// Command gk-server starts the gatekeeper token authority: the HTTP API for
// principals and administrators, and the gRPC validation gateway for services.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/gatekeeper/internal/authority"
	"github.com/and161185/gatekeeper/internal/bootstrap"
	"github.com/and161185/gatekeeper/internal/captcha"
	"github.com/and161185/gatekeeper/internal/clock"
	"github.com/and161185/gatekeeper/internal/config"
	"github.com/and161185/gatekeeper/internal/gateway"
	"github.com/and161185/gatekeeper/internal/limiter"
	"github.com/and161185/gatekeeper/internal/migrate"
	"github.com/and161185/gatekeeper/internal/obs"
	"github.com/and161185/gatekeeper/internal/repository/postgres"
	"github.com/and161185/gatekeeper/internal/revocation"
	grpcserver "github.com/and161185/gatekeeper/internal/server/grpc"
	"github.com/and161185/gatekeeper/internal/server/httpapi"
	"github.com/and161185/gatekeeper/internal/service"
	"github.com/and161185/gatekeeper/internal/token"
	"github.com/and161185/gatekeeper/internal/version"
)

var (
	buildVersion = "dev"
	buildDate    = "unknown"
)

const sweepEvery = time.Minute

func main() {
	envFile := pflag.String("env-file", "", "load environment from this file instead of ./.env")
	runMigrations := pflag.Bool("migrate", true, "apply pending schema migrations on startup")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		// logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", buildVersion),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *runMigrations, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.Development() {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func run(ctx context.Context, cfg config.Config, runMigrations bool, log *zap.Logger) error {
	if runMigrations {
		if _, err := migrate.Up(ctx, cfg.DatabaseURL, log); err != nil {
			return err
		}
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	principals := postgres.NewPrincipalRepo(db)
	services := postgres.NewServiceRepo(db)
	clk := clock.Real()
	metrics := obs.NewMetrics()

	g, ctx := errgroup.WithContext(ctx)

	store, closeStore, err := newRevocationStore(ctx, g, cfg, clk, log)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := token.NewSigner(token.Config{
		AccessSecret:  []byte(cfg.JWTSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        cfg.TokenIssuer,
	}, clk)
	if err != nil {
		return err
	}

	auth, err := authority.New(authority.Deps{
		Signer:     signer,
		Denylist:   revocation.NewGuard(store, cfg.StoreTimeout, log.Named("revocation")),
		Versions:   version.NewStore(principals, cfg.StoreTimeout),
		Principals: principals,
		Clock:      clk,
		Log:        log.Named("authority"),
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	gw := gateway.New(services, log.Named("gateway"), metrics)
	lim := limiter.NewPG(db.Pool, limiter.Config{
		Window:   cfg.LoginWindow,
		MaxFails: cfg.LoginMaxFails,
		BlockFor: cfg.LoginBlockFor,
	}, clk)
	cv := captcha.New(cfg.RecaptchaSecret, cfg.RecaptchaVerifyURL, log.Named("captcha"))

	authSvc := service.NewAuthService(principals, auth, lim, cv, log.Named("auth"))
	adminSvc := service.NewServiceAdmin(services, gw, log.Named("services"))
	validator := service.NewValidator(auth, principals, log.Named("validate"))

	if _, err := bootstrap.EnsureAdmin(ctx, principals, bootstrap.Admin{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}, log); err != nil {
		return err
	}

	rl := httpapi.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	if rl != nil {
		g.Go(func() error {
			rl.Run(ctx)
			return nil
		})
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:        authSvc,
		Admin:       adminSvc,
		Validator:   validator,
		Services:    gw,
		Metrics:     metrics,
		Log:         log.Named("http"),
		Clock:       clk,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimiter: rl,
	})

	gs, err := newGRPCServer(cfg, gw, validator, log.Named("grpc"))
	if err != nil {
		return err
	}

	g.Go(func() error {
		return httpapi.Run(ctx, cfg.HTTPAddr, router, cfg.ShutdownPeriod, log.Named("http"))
	})
	g.Go(func() error {
		return serveGRPC(ctx, gs, cfg.GRPCAddr, cfg.ShutdownPeriod, log.Named("grpc"))
	})
	return g.Wait()
}

// newRevocationStore connects the configured denylist backend. The memory
// backend's sweeper runs on g until ctx ends.
func newRevocationStore(ctx context.Context, g *errgroup.Group, cfg config.Config, clk clock.Clock, log *zap.Logger) (revocation.Store, func(), error) {
	if cfg.RevocationBackend == config.BackendMemory {
		log.Warn("using in-process revocation store; revocations do not survive restarts")
		m := revocation.NewMemory(clk)
		g.Go(func() error {
			m.Run(ctx, sweepEvery)
			return nil
		})
		return m, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	log.Info("revocation store connected", zap.String("addr", cfg.RedisAddr))
	return revocation.NewRedis(rdb), func() { _ = rdb.Close() }, nil
}

func newGRPCServer(cfg config.Config, gw *gateway.Gateway, v service.Validator, log *zap.Logger) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(log),
			grpcserver.LoggingUnary(log),
			grpcserver.APIKeyUnary(gw, "/"+grpcserver.ServiceName+"/"),
		),
	}
	if cfg.GRPCTLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPCTLSCert, cfg.GRPCTLSKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		log.Warn("gRPC listening without TLS")
	}

	s := grpc.NewServer(opts...)
	grpcserver.Register(s, grpcserver.New(v, log))

	hs := health.NewServer()
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Development() {
		reflection.Register(s)
	}
	return s, nil
}

func serveGRPC(ctx context.Context, s *grpc.Server, addr string, grace time.Duration, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- s.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.Stop()
	}
	return nil
}
