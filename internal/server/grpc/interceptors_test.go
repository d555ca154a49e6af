package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/gatekeeper/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_RecordsMetadataOnly(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	ic := LoggingUnary(zap.New(core))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	ctx = WithService(ctx, &model.Service{Name: "billing"})
	info := &grpc.UnaryServerInfo{FullMethod: MethodValidateToken}

	resp, err := ic(ctx, "secret-token", info, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("want 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["method"] != MethodValidateToken || fields["code"] != codes.OK.String() {
		t.Fatalf("fields: %v", fields)
	}
	if fields["peer"] != "127.0.0.1:12345" || fields["service"] != "billing" {
		t.Fatalf("fields: %v", fields)
	}
	for k, v := range fields {
		if v == "secret-token" {
			t.Fatalf("request payload leaked into field %q", k)
		}
	}
}

func TestLoggingUnary_KeepsHandlerError(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: MethodCheckRoles}

	wantErr := status.Error(codes.InvalidArgument, "requiredRoles must not be empty")
	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: MethodValidateToken}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("nil validator")
	})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal || st.Message() != "internal" {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: MethodValidateToken}

	resp, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}
