package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/trustgate/internal/covenant"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// ErrAuditUnavailable is returned when the sink rejects a decision. The
// decision returned alongside it is always Denied.
var ErrAuditUnavailable = errors.New("audit sink unavailable")

// ErrNilSink is returned by NewGate when no sink is supplied.
var ErrNilSink = errors.New("gate: nil sink")

// Reason prefixes that are not derived from the trust score.
const (
	ReasonInvalidInput = "denied: invalid input: "
	ReasonAuditFailed  = "denied: audit record failed"
)

// #region can-emit
// CanEmit is the pure emission predicate: in covenant and trust at or above
// threshold. NaN in either number is never emittable.
func CanEmit(inCovenant bool, trustScore, threshold float64) bool {
	if math.IsNaN(trustScore) || math.IsNaN(threshold) {
		return false
	}
	return inCovenant && trustScore >= threshold
}

// #endregion can-emit

// #region gate
// Gate evaluates emission requests against a fixed configuration. It holds
// no per-call state and is safe for concurrent use.
type Gate struct {
	config Config
	deny   covenant.DenySet
	sink   Sink
	now    func() time.Time
	newID  func() string
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithIDGenerator overrides decision ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(g *Gate) { g.newID = newID }
}

// NewGate validates cfg and returns a gate that records to sink.
func NewGate(cfg Config, sink Sink, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new gate: %w", err)
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	g := &Gate{
		config: cfg,
		deny:   covenant.NewDenySet(cfg.DenyTags...),
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the gate configuration.
func (g *Gate) Config() Config { return g.config }

// Evaluate aggregates the request samples, scores them, checks covenant
// membership and records the decision to the sink before returning.
//
// Invalid input yields a recorded Denied decision and a typed error. A sink
// failure downgrades the decision to Denied and wraps ErrAuditUnavailable.
func (g *Gate) Evaluate(ctx context.Context, req Request) (EmitDecision, error) {
	d := EmitDecision{
		ID:          g.newID(),
		ActorID:     req.ActorID,
		Action:      req.Action,
		State:       StatePending,
		Threshold:   g.config.Threshold,
		Weights:     g.config.Weights,
		Tags:        append([]string(nil), req.Tags...),
		SampleCount: len(req.Samples),
		Timestamp:   g.now(),
	}
	d.InCovenant = g.deny.InCovenant(req.Tags)
	d.MatchedDenyTags = g.deny.Matched(req.Tags)

	var evalErr error
	if err := applyOverrides(&d, req); err != nil {
		deny(&d, err)
		evalErr = fmt.Errorf("evaluate: %w", err)
	} else {
		evalErr = g.score(&d, req.Samples)
	}

	if err := g.sink.Record(ctx, d); err != nil {
		if d.Allowed {
			d.Allowed = false
			d.State = StateDenied
			d.Reason = ReasonAuditFailed
		}
		auditErr := fmt.Errorf("record decision %s: %w", d.ID, errors.Join(ErrAuditUnavailable, err))
		return d, errors.Join(evalErr, auditErr)
	}
	return d, evalErr
}

// score fills trust, breakdown, verdict and reason. It never leaves the
// decision Pending.
func (g *Gate) score(d *EmitDecision, samples []telemetry.Sample) error {
	b, err := telemetry.Aggregate(samples)
	if err != nil {
		deny(d, err)
		return fmt.Errorf("evaluate: %w", err)
	}

	d.Breakdown = b
	d.Trust = trust.Score(b, d.Weights)
	d.Allowed = CanEmit(d.InCovenant, d.Trust, d.Threshold)

	switch {
	case d.Allowed:
		d.State = StateAllowed
		d.Reason = fmt.Sprintf("allowed: trust %.4f >= threshold %.4f", d.Trust, d.Threshold)
	case !d.InCovenant:
		d.State = StateDenied
		d.Reason = fmt.Sprintf("denied: covenant violation %v", d.MatchedDenyTags)
	default:
		d.State = StateDenied
		d.Reason = fmt.Sprintf("denied: trust %.4f < threshold %.4f", d.Trust, d.Threshold)
	}
	return nil
}

// #endregion gate

// #region helpers

// applyOverrides replaces the configured threshold and weights with valid
// per-call values. A rejected override leaves the configured values on the
// decision so it still encodes for every sink; the raw value is only named
// in the reason.
func applyOverrides(d *EmitDecision, req Request) error {
	if req.Threshold != nil {
		if err := trust.ValidateThreshold(*req.Threshold); err != nil {
			return fmt.Errorf("threshold override: %w", err)
		}
	}
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return fmt.Errorf("weights override: %w", err)
		}
	}
	if req.Threshold != nil {
		d.Threshold = *req.Threshold
	}
	if req.Weights != nil {
		d.Weights = *req.Weights
	}
	return nil
}

func deny(d *EmitDecision, err error) {
	d.Allowed = false
	d.State = StateDenied
	d.Reason = ReasonInvalidInput + err.Error()
}

// #endregion helpers
