// Package mcptool exposes the emit gate to agents as MCP tools.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/pipeline"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/throttle"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

const (
	// Tool names
	toolEvaluate     = "evaluate_emit"
	toolRecordSample = "record_sample"
)

// Evaluator is the pipeline surface the tools call.
type Evaluator interface {
	Evaluate(ctx context.Context, in pipeline.Input) (throttle.Outcome, error)
	EvaluateActor(ctx context.Context, in pipeline.Input) (throttle.Outcome, error)
	RecordSample(ctx context.Context, s telemetry.Sample) (string, error)
}

// Config holds the MCP server identity. AllowOverrides exposes the per-call
// threshold and weights arguments; without it the agent being gated cannot
// move its own bar.
type Config struct {
	Name           string
	Version        string
	AllowOverrides bool
}

// Server wraps the mcp-go server.
type Server struct {
	server         *server.MCPServer
	ev             Evaluator
	logger         *slog.Logger
	allowOverrides bool
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg Config, ev Evaluator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		server: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		ev:             ev,
		logger:         logger.With("component", "mcp"),
		allowOverrides: cfg.AllowOverrides,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	evalOpts := []mcp.ToolOption{
		mcp.WithDescription("Decide whether an actor may emit an action. Every call is recorded to the audit log before the verdict is returned."),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Actor requesting emission")),
		mcp.WithString("tenant", mcp.Description("Tenant policy to apply; default policy when empty")),
		mcp.WithString("action_kind", mcp.Description("Kind of action, e.g. deploy")),
		mcp.WithString("action_target", mcp.Description("Target of the action")),
		mcp.WithArray("tags", mcp.Description("Covenant tags attached to the request"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("samples", mcp.Description("Telemetry samples; omit with use_stored to use recorded samples"), mcp.Items(map[string]any{"type": "object"})),
		mcp.WithBoolean("use_stored", mcp.Description("Evaluate the actor's stored sample window")),
	}
	if s.allowOverrides {
		evalOpts = append(evalOpts,
			mcp.WithNumber("threshold", mcp.Description("Per-call threshold override in [0,1]")),
			mcp.WithObject("weights", mcp.Description("Per-call weights override {alpha_c, alpha_tr, alpha_entropy}")),
		)
	}
	s.server.AddTool(mcp.NewTool(toolEvaluate, evalOpts...), s.handleEvaluate)

	recordTool := mcp.NewTool(toolRecordSample,
		mcp.WithDescription("Record one telemetry sample for an actor"),
		mcp.WithString("actor_id", mcp.Required(), mcp.Description("Actor the sample describes")),
		mcp.WithNumber("policy_checks", mcp.Description("Policy checks performed")),
		mcp.WithNumber("policy_passes", mcp.Description("Policy checks passed")),
		mcp.WithNumber("attestation_required", mcp.Description("Attestations required")),
		mcp.WithNumber("attestation_provided", mcp.Description("Attestations provided")),
		mcp.WithObject("action_histogram", mcp.Description("Action kind to count")),
		mcp.WithString("timestamp", mcp.Description("RFC 3339 observation time; now when empty")),
	)
	s.server.AddTool(recordTool, s.handleRecordSample)
}

// MCP returns the underlying mcp-go server.
func (s *Server) MCP() *server.MCPServer { return s.server }

// Serve runs the server over stdio.
func (s *Server) Serve() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.server)
}

// #region evaluate
type evaluateArgs struct {
	ActorID      string             `json:"actor_id"`
	Tenant       string             `json:"tenant"`
	ActionKind   string             `json:"action_kind"`
	ActionTarget string             `json:"action_target"`
	Tags         []string           `json:"tags"`
	Samples      []telemetry.Sample `json:"samples"`
	UseStored    bool               `json:"use_stored"`
	Threshold    *float64           `json:"threshold"`
	Weights      *trust.Weights     `json:"weights"`
}

type evaluateResult struct {
	Decision  gate.EmitDecision `json:"decision"`
	Throttled bool              `json:"throttled"`
	Proceed   bool              `json:"proceed"`
}

func (s *Server) handleEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args evaluateArgs
	if err := request.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.ActorID == "" {
		return mcp.NewToolResultError("actor_id is required"), nil
	}
	if !s.allowOverrides && (args.Threshold != nil || args.Weights != nil) {
		return mcp.NewToolResultError("per-call threshold and weights overrides are disabled"), nil
	}

	in := pipeline.Input{
		Tenant:    args.Tenant,
		ActorID:   args.ActorID,
		Action:    gate.ActionDescriptor{Kind: args.ActionKind, Target: args.ActionTarget},
		Tags:      args.Tags,
		Samples:   args.Samples,
		Weights:   args.Weights,
		Threshold: args.Threshold,
	}
	var (
		out throttle.Outcome
		err error
	)
	if args.UseStored {
		out, err = s.ev.EvaluateActor(ctx, in)
	} else {
		out, err = s.ev.Evaluate(ctx, in)
	}

	body, mErr := json.Marshal(evaluateResult{Decision: out.Decision, Throttled: out.Throttled, Proceed: out.Proceed()})
	if mErr != nil {
		return mcp.NewToolResultError(mErr.Error()), nil
	}
	if err != nil {
		s.logger.WarnContext(ctx, "evaluate_emit failed", "actor_id", args.ActorID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("%v\n%s", err, body)), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

// #endregion evaluate

// #region record-sample
func (s *Server) handleRecordSample(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var sample telemetry.Sample
	if err := request.BindArguments(&sample); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if sample.ActorID == "" {
		return mcp.NewToolResultError("actor_id is required"), nil
	}
	id, err := s.ev.RecordSample(ctx, sample)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, _ := json.Marshal(map[string]string{"sample_id": id})
	return mcp.NewToolResultText(string(body)), nil
}

// #endregion record-sample
