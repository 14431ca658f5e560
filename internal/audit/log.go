package audit

import (
	"context"
	"log/slog"

	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// LogSink writes each decision as a structured log record. Allowed
// decisions log at Info, denied ones at Warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Record logs d. It never fails.
func (s *LogSink) Record(ctx context.Context, d gate.EmitDecision) error {
	level := slog.LevelInfo
	if !d.Allowed {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "emit decision",
		slog.String("decision_id", d.ID),
		slog.String("actor_id", d.ActorID),
		slog.String("action", d.Action.Kind),
		slog.String("state", string(d.State)),
		slog.Float64("trust", d.Trust),
		slog.Float64("threshold", d.Threshold),
		slog.Bool("in_covenant", d.InCovenant),
		slog.Any("matched_deny_tags", d.MatchedDenyTags),
		slog.Group("breakdown",
			slog.Float64("compliance", d.Breakdown.Compliance),
			slog.Float64("attestation", d.Breakdown.Attestation),
			slog.Float64("entropy", d.Breakdown.Entropy),
		),
		slog.String("reason", d.Reason),
	)
	return nil
}
