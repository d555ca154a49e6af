// Package grpcserver exposes the token validation gateway over gRPC.
//
// Messages are google.protobuf.Struct values so callers need no generated
// stubs: ValidateToken takes {token} and answers {isValid, message, user};
// CheckRoles takes {token, requiredRoles} and answers {hasRoles, message,
// userRoles}. A rejected token is an answer, not an RPC error.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/gatekeeper/internal/errs"
	"github.com/and161185/gatekeeper/internal/service"
)

// Fully-qualified names of the validation service.
const (
	ServiceName         = "gatekeeper.v1.Validation"
	MethodValidateToken = "/" + ServiceName + "/ValidateToken"
	MethodCheckRoles    = "/" + ServiceName + "/CheckRoles"
)

const msgInvalidToken = "Invalid or expired token"

// ValidationServer is the server API of gatekeeper.v1.Validation.
type ValidationServer interface {
	ValidateToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	CheckRoles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ValidationServiceDesc describes gatekeeper.v1.Validation for grpc.Server.RegisterService.
var ValidationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ValidationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateToken", Handler: validateTokenHandler},
		{MethodName: "CheckRoles", Handler: checkRolesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatekeeper/v1/validation.proto",
}

func validateTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidationServer).ValidateToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodValidateToken}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidationServer).ValidateToken(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func checkRolesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidationServer).CheckRoles(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodCheckRoles}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidationServer).CheckRoles(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server wires the validator into gRPC handlers.
type Server struct {
	validator service.Validator
	log       *zap.Logger
}

var _ ValidationServer = (*Server)(nil)

// New constructs a gRPC validation server.
func New(v service.Validator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{validator: v, log: log}
}

// Register attaches s to gs.
func Register(gs grpc.ServiceRegistrar, s *Server) {
	gs.RegisterService(&ValidationServiceDesc, s)
}

// ValidateToken verifies an access token on behalf of the calling service.
func (s *Server) ValidateToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	tok := in.GetFields()["token"].GetStringValue()
	user, err := s.validator.ValidateToken(ctx, tok)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCredential) {
			return newStruct(map[string]any{"isValid": false, "message": msgInvalidToken})
		}
		return nil, s.toStatus("validate token", err)
	}
	return newStruct(map[string]any{
		"isValid": true,
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"roles":    toList(user.Roles),
		},
	})
}

// CheckRoles reports whether the token carries any of requiredRoles.
func (s *Server) CheckRoles(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	var required []string
	for _, v := range fields["requiredRoles"].GetListValue().GetValues() {
		if r := v.GetStringValue(); r != "" {
			required = append(required, r)
		}
	}
	rc, err := s.validator.CheckRoles(ctx, fields["token"].GetStringValue(), required)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidCredential) {
			return newStruct(map[string]any{"hasRoles": false, "message": msgInvalidToken})
		}
		return nil, s.toStatus("check roles", err)
	}
	return newStruct(map[string]any{"hasRoles": rc.HasRoles, "userRoles": toList(rc.UserRoles)})
}

func (s *Server) toStatus(op string, err error) error {
	if errors.Is(err, errs.ErrValidation) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	s.log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal")
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toList converts to the []any form structpb accepts.
func toList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
