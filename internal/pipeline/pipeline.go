// Package pipeline connects sample storage, tenant policy, the gate, the
// emit throttle and telemetry into the evaluation path used by transports.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/observability"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/throttle"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// SampleStore is the subset of store.SampleStore the pipeline needs.
type SampleStore interface {
	Append(ctx context.Context, s telemetry.Sample) (string, error)
	Window(ctx context.Context, actorID string, since time.Time) ([]telemetry.Sample, error)
}

// PolicyResolver maps a tenant to its gate configuration. Key returns the
// canonical policy name for tenant; tenants sharing a key share a gate and a
// metric series.
type PolicyResolver interface {
	Key(tenant string) string
	For(tenant string) (gate.Config, error)
}

// Input is one evaluation through the pipeline.
type Input struct {
	Tenant    string
	ActorID   string
	Action    gate.ActionDescriptor
	Tags      []string
	Samples   []telemetry.Sample
	Weights   *trust.Weights
	Threshold *float64
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	store    SampleStore
	policy   PolicyResolver
	sink     gate.Sink
	window   time.Duration
	emitter  *throttle.Emitter
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
	gateOpts []gate.Option

	mu    sync.Mutex
	gates map[string]*gate.Gate
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWindow limits stored samples to those observed within d. Zero uses
// the full history.
func WithWindow(d time.Duration) Option { return func(p *Pipeline) { p.window = d } }

// WithThrottle spaces allowed emissions per actor.
func WithThrottle(e *throttle.Emitter) Option { return func(p *Pipeline) { p.emitter = e } }

// WithMetrics records every decision on m.
func WithMetrics(m *observability.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option { return func(p *Pipeline) { p.tracer = t } }

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithClock overrides the clock used for sample windows.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithGateOptions passes options to every tenant gate.
func WithGateOptions(opts ...gate.Option) Option {
	return func(p *Pipeline) { p.gateOpts = append(p.gateOpts, opts...) }
}

// New builds a pipeline. store may be nil when callers always supply samples.
func New(store SampleStore, policy PolicyResolver, sink gate.Sink, opts ...Option) (*Pipeline, error) {
	if policy == nil {
		return nil, fmt.Errorf("new pipeline: nil policy")
	}
	if sink == nil {
		return nil, fmt.Errorf("new pipeline: %w", gate.ErrNilSink)
	}
	p := &Pipeline{
		store:  store,
		policy: policy,
		sink:   sink,
		tracer: otel.Tracer(observability.InstrumentationName),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		gates:  make(map[string]*gate.Gate),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	if _, _, err := p.gateFor(""); err != nil {
		return nil, fmt.Errorf("new pipeline: %w", err)
	}
	return p, nil
}

// RecordSample stores one telemetry sample.
func (p *Pipeline) RecordSample(ctx context.Context, s telemetry.Sample) (string, error) {
	if p.store == nil {
		return "", fmt.Errorf("record sample: no sample store configured")
	}
	return p.store.Append(ctx, s)
}

// Evaluate runs the caller-supplied samples through the tenant gate.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) (throttle.Outcome, error) {
	return p.evaluate(ctx, in, in.Samples)
}

// EvaluateActor loads the actor's sample window from the store and
// evaluates it. Input.Samples is ignored.
func (p *Pipeline) EvaluateActor(ctx context.Context, in Input) (throttle.Outcome, error) {
	if p.store == nil {
		return throttle.Outcome{}, fmt.Errorf("evaluate actor: no sample store configured")
	}
	var since time.Time
	if p.window > 0 {
		since = p.now().Add(-p.window)
	}
	samples, err := p.store.Window(ctx, in.ActorID, since)
	if err != nil {
		return throttle.Outcome{}, fmt.Errorf("evaluate actor: %w", err)
	}
	return p.evaluate(ctx, in, samples)
}

func (p *Pipeline) evaluate(ctx context.Context, in Input, samples []telemetry.Sample) (throttle.Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "trustgate.evaluate", trace.WithAttributes(
		attribute.String("trustgate.tenant", in.Tenant),
		attribute.String("trustgate.actor_id", in.ActorID),
		attribute.Int("trustgate.sample_count", len(samples)),
	))
	defer span.End()

	key, g, err := p.gateFor(in.Tenant)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy")
		return throttle.Outcome{}, fmt.Errorf("evaluate: %w", err)
	}
	span.SetAttributes(attribute.String("trustgate.policy", key))

	d, err := g.Evaluate(ctx, gate.Request{
		ActorID:   in.ActorID,
		Action:    in.Action,
		Samples:   samples,
		Tags:      in.Tags,
		Weights:   in.Weights,
		Threshold: in.Threshold,
	})
	if p.metrics != nil {
		p.metrics.ObserveDecision(ctx, key, d, err)
	}
	span.SetAttributes(
		attribute.String("trustgate.decision_id", d.ID),
		attribute.String("trustgate.state", string(d.State)),
		attribute.Float64("trustgate.trust", d.Trust),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, d.Reason)
		return throttle.Outcome{Decision: d}, err
	}

	out := throttle.Outcome{Decision: d}
	if p.emitter != nil {
		out = p.emitter.Admit(d)
		if out.Throttled {
			span.SetAttributes(attribute.Bool("trustgate.throttled", true))
			if p.metrics != nil {
				p.metrics.ObserveThrottled(ctx, key)
			}
			p.logger.InfoContext(ctx, "emission throttled", "actor_id", d.ActorID, "decision_id", d.ID)
		}
	}
	return out, nil
}

func (p *Pipeline) gateFor(tenant string) (string, *gate.Gate, error) {
	key := p.policy.Key(tenant)
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gates[key]; ok {
		return key, g, nil
	}
	cfg, err := p.policy.For(key)
	if err != nil {
		return key, nil, fmt.Errorf("resolve tenant %q: %w", tenant, err)
	}
	g, err := gate.NewGate(cfg, p.sink, p.gateOpts...)
	if err != nil {
		return key, nil, err
	}
	p.gates[key] = g
	return key, g, nil
}
