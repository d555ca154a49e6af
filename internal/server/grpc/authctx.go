package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/gatekeeper/internal/model"
)

type ctxKey string

const serviceKey ctxKey = "gk.service"

// WithService stores the authenticated calling service in context.
func WithService(ctx context.Context, svc *model.Service) context.Context {
	return context.WithValue(ctx, serviceKey, svc)
}

// ServiceFromCtx fetches the calling service from context.
func ServiceFromCtx(ctx context.Context) (*model.Service, bool) {
	svc, ok := ctx.Value(serviceKey).(*model.Service)
	return svc, ok && svc != nil
}

// firstMD returns the first non-empty value of key in incoming metadata.
func firstMD(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
