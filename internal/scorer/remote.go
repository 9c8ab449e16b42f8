package scorer

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/GriffinCanCode/respawnwatch/internal/errors"
	"github.com/GriffinCanCode/respawnwatch/internal/resilience"
	"github.com/GriffinCanCode/respawnwatch/internal/trace"
)

// Remote scores through a scorerd instance.
type Remote struct {
	conn    *grpc.ClientConn
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
	timeout time.Duration
}

// Dial creates a client for a remote scorer. The connection is established
// lazily; call WaitReady to find out whether the server is up.
func Dial(addr string, opts ...grpc.DialOption) (*Remote, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(MaxMessageSize),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "dial scorer").WithMetadata("addr", addr)
	}
	return &Remote{
		conn:    conn,
		breaker: resilience.New(resilience.ScorerConfig()),
		retry:   resilience.ScorerRetryConfig(),
		timeout: DefaultCallTimeout,
	}, nil
}

// Score sends both tensors in one request. Transient failures are retried and
// repeated failures open the breaker so the cycle does not stall on a dead server.
func (r *Remote) Score(ctx context.Context, scene, tmpl Tensor) (float32, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := wrapperspb.Bytes(EncodePair(scene, tmpl))
	var score float32
	err := resilience.Retry(ctx, r.retry, func() error {
		return r.breaker.Execute(func() error {
			resp := &wrapperspb.FloatValue{}
			if err := r.conn.Invoke(ctx, ScoreMethod, req, resp); err != nil {
				return apperrors.FromGRPCError(err)
			}
			score = resp.GetValue()
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// WaitReady connects and blocks until the channel is ready. It fails with
// CodeUnavailable when ctx ends first.
func (r *Remote) WaitReady(ctx context.Context) error {
	r.conn.Connect()
	for {
		s := r.conn.GetState()
		switch s {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return apperrors.New(apperrors.CodeUnavailable, "scorer connection closed")
		}
		if !r.conn.WaitForStateChange(ctx, s) {
			return apperrors.Wrap(ctx.Err(), apperrors.CodeUnavailable, "scorer not ready").
				WithMetadata("target", r.conn.Target()).
				WithMetadata("state", s.String())
		}
	}
}

// BreakerState reports the circuit breaker guarding the server.
func (r *Remote) BreakerState() resilience.State {
	return r.breaker.State()
}

// Close closes the gRPC connection.
func (r *Remote) Close() error {
	return r.conn.Close()
}
