package scorer

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// ScoreServer is the server-side contract of the Score RPC.
type ScoreServer interface {
	ScoreBytes(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "respawnwatch/scorer/v1/scorer.proto",
}

func scoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoreServer).ScoreBytes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ScoreMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoreServer).ScoreBytes(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Service exposes a local Scorer over gRPC.
type Service struct {
	scorer Scorer
}

// ScoreBytes decodes the tensor pair and scores it.
func (s *Service) ScoreBytes(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error) {
	ctx, span := trace.StartSpan(ctx, "score")
	defer span.End()

	scene, tmpl, err := DecodePair(req.GetValue())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "malformed tensor pair")
	}
	score, err := s.scorer.Score(ctx, scene, tmpl)
	if err != nil {
		trace.Logger(ctx).Warn("score failed", "error", err)
		return nil, err
	}
	span.SetAttr("score", score)
	trace.Logger(ctx).Debug("scored", "span", span, "scene", scene.Shape, "template", tmpl.Shape)
	return wrapperspb.Float(score), nil
}

// Register attaches the scorer service to an existing gRPC server.
func Register(gs *grpc.Server, sc Scorer) {
	gs.RegisterService(&serviceDesc, &Service{scorer: sc})
}

// NewServer builds a gRPC server exposing sc, with trace propagation.
func NewServer(sc Scorer, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.MaxRecvMsgSize(MaxMessageSize),
	}
	gs := grpc.NewServer(append(base, opts...)...)
	Register(gs, sc)
	return gs
}
