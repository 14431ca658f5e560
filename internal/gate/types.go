package gate

import (
	"context"
	"time"

	"github.com/danielpatrickdp/trustgate/internal/covenant"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// #region state
// State is the lifecycle of a single evaluation. Allowed and Denied are terminal.
type State string

const (
	StatePending State = "pending"
	StateAllowed State = "allowed"
	StateDenied  State = "denied"
)

// #endregion state

// #region gate-config
// DefaultThreshold is the out-of-box minimum trust for emission.
const DefaultThreshold = 0.62

// Config holds the deployment-level gate parameters.
type Config struct {
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Weights   trust.Weights `json:"weights" yaml:"weights"`
	DenyTags  []string      `json:"deny_tags" yaml:"deny_tags"`
}

// DefaultConfig returns threshold 0.62, weights {0.8, 0.5, 0.7} and deny set {"forbid"}.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Weights:   trust.DefaultWeights(),
		DenyTags:  append([]string(nil), covenant.DefaultDenyTags...),
	}
}

// Validate checks the threshold and weights.
func (c Config) Validate() error {
	if err := trust.ValidateThreshold(c.Threshold); err != nil {
		return err
	}
	return c.Weights.Validate()
}

// #endregion gate-config

// #region request
// ActionDescriptor identifies what the actor wants to emit.
type ActionDescriptor struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

// Request is one evaluation. Weights and Threshold override the gate
// configuration for this call only when non-nil.
type Request struct {
	ActorID   string
	Action    ActionDescriptor
	Samples   []telemetry.Sample
	Tags      []string
	Weights   *trust.Weights
	Threshold *float64
}

// #endregion request

// #region emit-decision
// EmitDecision is the immutable outcome of an evaluation. It carries every
// input needed to reproduce the trust score.
type EmitDecision struct {
	ID              string              `json:"id"`
	ActorID         string              `json:"actor_id"`
	Action          ActionDescriptor    `json:"action"`
	Allowed         bool                `json:"allowed"`
	State           State               `json:"state"`
	Trust           float64             `json:"trust"`
	Threshold       float64             `json:"threshold"`
	InCovenant      bool                `json:"in_covenant"`
	MatchedDenyTags []string            `json:"matched_deny_tags,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	Breakdown       telemetry.Breakdown `json:"breakdown"`
	Weights         trust.Weights       `json:"weights"`
	SampleCount     int                 `json:"sample_count"`
	Reason          string              `json:"reason"`
	Timestamp       time.Time           `json:"timestamp"`
}

// #endregion emit-decision

// #region sink
// Sink receives every decision before the verdict is returned to the caller.
// Implementations own their own synchronization.
type Sink interface {
	Record(ctx context.Context, d EmitDecision) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d EmitDecision) error

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, d EmitDecision) error { return f(ctx, d) }

// #endregion sink
