package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/model"
	"github.com/and161185/gatekeeper/internal/service"
)

const (
	bufSize   = 1 << 20
	goodKey   = "good-key"
	goodToken = "good-token"
)

type stubValidator struct{ lastRequired []string }

func (s *stubValidator) ValidateToken(_ context.Context, raw string) (service.ValidatedUser, error) {
	switch raw {
	case goodToken:
		return service.ValidatedUser{ID: "u-1", Username: "alice", Email: "alice@example.com", Roles: []string{"user", "editor"}}, nil
	case "boom":
		return service.ValidatedUser{}, errors.New("db down")
	default:
		return service.ValidatedUser{}, fmt.Errorf("%w: %w", errs.ErrInvalidCredential, errs.ErrExpired)
	}
}

func (s *stubValidator) CheckRoles(_ context.Context, raw string, required []string) (service.RoleCheck, error) {
	s.lastRequired = required
	if len(required) == 0 {
		return service.RoleCheck{}, fmt.Errorf("%w: requiredRoles must not be empty", errs.ErrValidation)
	}
	if raw != goodToken {
		return service.RoleCheck{}, errs.ErrInvalidCredential
	}
	has := false
	for _, r := range required {
		if r == "editor" {
			has = true
		}
	}
	return service.RoleCheck{HasRoles: has, UserRoles: []string{"user", "editor"}}, nil
}

type stubServices struct{}

func (stubServices) AuthenticateRequest(_ context.Context, apiKey, origin, _ string) (*model.Service, error) {
	switch {
	case apiKey == "disabled":
		return nil, errs.ErrInactive
	case apiKey != goodKey:
		return nil, errs.ErrUnknownService
	case origin == "https://evil.example.com":
		return nil, errs.ErrOriginForbidden
	}
	return &model.Service{Name: "billing", APIKey: apiKey, Active: true}, nil
}

func startServer(t *testing.T) (*grpc.ClientConn, *stubValidator) {
	t.Helper()

	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(bufSize)
	v := &stubValidator{}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		APIKeyUnary(stubServices{}, "/"+ServiceName+"/"),
	))
	Register(gs, New(v, log))

	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return cc, v
}

func callCtx(t *testing.T, kv ...string) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(kv...))
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestValidateToken_OverBufconn(t *testing.T) {
	t.Parallel()
	cc, _ := startServer(t)

	t.Run("valid token returns user", func(t *testing.T) {
		out := new(structpb.Struct)
		err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodValidateToken, mustStruct(t, map[string]any{"token": goodToken}), out)
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		m := out.AsMap()
		if m["isValid"] != true {
			t.Fatalf("isValid: %v", m)
		}
		user, _ := m["user"].(map[string]any)
		if user["username"] != "alice" || user["id"] != "u-1" {
			t.Fatalf("user mismatch: %v", user)
		}
		roles, _ := user["roles"].([]any)
		if len(roles) != 2 {
			t.Fatalf("roles: %v", roles)
		}
	})

	t.Run("invalid token is an answer", func(t *testing.T) {
		out := new(structpb.Struct)
		err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodValidateToken, mustStruct(t, map[string]any{"token": "stale"}), out)
		if err != nil {
			t.Fatalf("Invoke: %v", err)
		}
		m := out.AsMap()
		if m["isValid"] != false || m["message"] != msgInvalidToken {
			t.Fatalf("unexpected: %v", m)
		}
		if _, ok := m["user"]; ok {
			t.Fatalf("user must be absent: %v", m)
		}
	})

	t.Run("internal failure is hidden", func(t *testing.T) {
		err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodValidateToken, mustStruct(t, map[string]any{"token": "boom"}), new(structpb.Struct))
		st, _ := status.FromError(err)
		if st.Code() != codes.Internal || st.Message() != "internal" {
			t.Fatalf("want Internal, got %v", err)
		}
	})
}

func TestCheckRoles_OverBufconn(t *testing.T) {
	t.Parallel()
	cc, v := startServer(t)

	in := mustStruct(t, map[string]any{"token": goodToken, "requiredRoles": []any{"admin", "editor"}})
	out := new(structpb.Struct)
	if err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodCheckRoles, in, out); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.AsMap()["hasRoles"] != true {
		t.Fatalf("hasRoles: %v", out.AsMap())
	}
	if len(v.lastRequired) != 2 {
		t.Fatalf("required roles not forwarded: %v", v.lastRequired)
	}

	in = mustStruct(t, map[string]any{"token": goodToken})
	err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodCheckRoles, in, new(structpb.Struct))
	if st, _ := status.FromError(err); st.Code() != codes.InvalidArgument {
		t.Fatalf("want InvalidArgument, got %v", err)
	}

	in = mustStruct(t, map[string]any{"token": "stale", "requiredRoles": []any{"editor"}})
	out = new(structpb.Struct)
	if err := cc.Invoke(callCtx(t, "x-api-key", goodKey), MethodCheckRoles, in, out); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if m := out.AsMap(); m["hasRoles"] != false || m["message"] != msgInvalidToken {
		t.Fatalf("unexpected: %v", m)
	}
}

func TestAPIKeyUnary_OverBufconn(t *testing.T) {
	t.Parallel()
	cc, _ := startServer(t)
	in := mustStruct(t, map[string]any{"token": goodToken})

	cases := []struct {
		name string
		md   []string
		code codes.Code
	}{
		{"missing key", nil, codes.Unauthenticated},
		{"unknown key", []string{"x-api-key", "nope"}, codes.Unauthenticated},
		{"inactive service", []string{"x-api-key", "disabled"}, codes.Unauthenticated},
		{"origin not allowed", []string{"x-api-key", goodKey, "origin", "https://evil.example.com"}, codes.PermissionDenied},
		{"allowed", []string{"x-api-key", goodKey, "origin", "https://app.example.com"}, codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cc.Invoke(callCtx(t, tc.md...), MethodValidateToken, in, new(structpb.Struct))
			if got := status.Code(err); got != tc.code {
				t.Fatalf("want %s, got %v", tc.code, err)
			}
		})
	}
}

func TestAPIKeyUnary_OtherMethodsPassThrough(t *testing.T) {
	t.Parallel()

	ic := APIKeyUnary(stubServices{}, "/"+ServiceName+"/")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	resp, err := ic(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		if _, ok := ServiceFromCtx(ctx); ok {
			t.Fatalf("service must not be attached")
		}
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected: %v %v", resp, err)
	}
}

func TestAPIKeyUnary_StoreFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	ic := APIKeyUnary(failingServices{}, "/"+ServiceName+"/")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", goodKey))
	_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: MethodValidateToken}, func(context.Context, any) (any, error) {
		t.Fatalf("handler must not run")
		return nil, nil
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("want Unavailable, got %v", err)
	}
}

type failingServices struct{}

func (failingServices) AuthenticateRequest(context.Context, string, string, string) (*model.Service, error) {
	return nil, errors.New("connection refused")
}
