package rpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/pipeline"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/throttle"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// Evaluator is the pipeline surface the server calls.
type Evaluator interface {
	Evaluate(ctx context.Context, in pipeline.Input) (throttle.Outcome, error)
	EvaluateActor(ctx context.Context, in pipeline.Input) (throttle.Outcome, error)
	RecordSample(ctx context.Context, s telemetry.Sample) (string, error)
}

// Server implements TrustGateServer on top of an Evaluator.
type Server struct {
	ev             Evaluator
	logger         *slog.Logger
	allowOverrides bool
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithCallOverrides lets callers replace the tenant threshold and weights per
// request. Off by default: a caller able to lower its own threshold is not
// gated by its tenant policy.
func WithCallOverrides(allow bool) ServerOption {
	return func(s *Server) { s.allowOverrides = allow }
}

// NewServer returns a server backed by ev.
func NewServer(ev Evaluator, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ev: ev, logger: logger.With("component", "rpc")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate decodes an EvaluateRequest and returns an EvaluateResponse. When
// evaluation fails after a decision was recorded, the decision is attached
// to the status details.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in EvaluateRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.ActorID == "" {
		return nil, status.Error(codes.InvalidArgument, "actor_id is required")
	}
	if !s.allowOverrides && (in.Threshold != nil || in.Weights != nil) {
		return nil, status.Error(codes.PermissionDenied, "per-call threshold and weights overrides are disabled")
	}
	tenant, err := bindTenant(ctx, in.Tenant)
	if err != nil {
		return nil, err
	}

	pin := pipeline.Input{
		Tenant:    tenant,
		ActorID:   in.ActorID,
		Action:    in.Action,
		Tags:      in.Tags,
		Samples:   in.Samples,
		Weights:   in.Weights,
		Threshold: in.Threshold,
	}
	var out throttle.Outcome
	if in.UseStored {
		out, err = s.ev.EvaluateActor(ctx, pin)
	} else {
		out, err = s.ev.Evaluate(ctx, pin)
	}

	resp, encErr := toStruct(EvaluateResponse{Decision: out.Decision, Throttled: out.Throttled, Proceed: out.Proceed()})
	if encErr != nil {
		return nil, status.Error(codes.Internal, encErr.Error())
	}
	if err != nil {
		st := status.New(codeFor(err), err.Error())
		if out.Decision.ID != "" {
			if withDetails, derr := st.WithDetails(resp); derr == nil {
				st = withDetails
			}
		}
		return nil, st.Err()
	}
	return resp, nil
}

// RecordSample stores one telemetry sample.
func (s *Server) RecordSample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var sample telemetry.Sample
	if err := fromStruct(req, &sample); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if sample.ActorID == "" {
		return nil, status.Error(codes.InvalidArgument, "actor_id is required")
	}
	id, err := s.ev.RecordSample(ctx, sample)
	if err != nil {
		return nil, status.Error(codeFor(err), err.Error())
	}
	resp, err := toStruct(RecordSampleResponse{SampleID: id})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// LoggingInterceptor logs every unary call with its duration and code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelDebug
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, gate.ErrAuditUnavailable):
		return codes.Unavailable
	case errors.Is(err, telemetry.ErrInvalidSample), errors.Is(err, trust.ErrConfiguration):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}
