package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
)

// ServiceAuthenticator resolves service identities; *gateway.Gateway satisfies it.
type ServiceAuthenticator interface {
	AuthenticateRequest(ctx context.Context, apiKey, origin, referer string) (*model.Service, error)
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if svc, ok := ServiceFromCtx(ctx); ok {
			fields = append(fields, zap.String("service", svc.Name))
		}
		// metadata only; payloads carry tokens
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// APIKeyUnary authenticates callers of methods under prefix by the x-api-key,
// origin and referer metadata. Other methods pass through untouched.
func APIKeyUnary(auth ServiceAuthenticator, prefix string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return next(ctx, req)
		}
		key := firstMD(ctx, "x-api-key")
		if key == "" {
			return nil, status.Error(codes.Unauthenticated, "no API key provided")
		}
		svc, err := auth.AuthenticateRequest(ctx, key, firstMD(ctx, "origin"), firstMD(ctx, "referer"))
		switch {
		case err == nil:
			return next(WithService(ctx, svc), req)
		case errors.Is(err, errs.ErrUnknownService), errors.Is(err, errs.ErrInactive):
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		case errors.Is(err, errs.ErrOriginForbidden):
			return nil, status.Error(codes.PermissionDenied, "origin not allowed")
		default:
			return nil, status.Error(codes.Unavailable, "service lookup failed")
		}
	}
}
