package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// Metrics holds the gate instruments.
type Metrics struct {
	decisions     metric.Int64Counter
	trustScore    metric.Float64Histogram
	auditFailures metric.Int64Counter
	invalidInput  metric.Int64Counter
	throttled     metric.Int64Counter
}

// NewMetrics registers instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.decisions, err = meter.Int64Counter("trustgate.decisions",
		metric.WithDescription("Emit decisions by final state"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if m.trustScore, err = meter.Float64Histogram("trustgate.trust_score",
		metric.WithDescription("Computed trust scores"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.62, 0.65, 0.7, 0.8, 0.9),
	); err != nil {
		return nil, err
	}
	if m.auditFailures, err = meter.Int64Counter("trustgate.audit_failures",
		metric.WithDescription("Decisions denied because the audit sink failed"),
	); err != nil {
		return nil, err
	}
	if m.invalidInput, err = meter.Int64Counter("trustgate.invalid_input",
		metric.WithDescription("Evaluations rejected for invalid samples or configuration"),
	); err != nil {
		return nil, err
	}
	if m.throttled, err = meter.Int64Counter("trustgate.throttled",
		metric.WithDescription("Allowed decisions held back by the emit interval"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// ObserveDecision records the final decision and classifies err. tenant is
// the resolved policy key, never the raw caller-supplied name.
func (m *Metrics) ObserveDecision(ctx context.Context, tenant string, d gate.EmitDecision, err error) {
	attrs := metric.WithAttributes(
		attribute.String("state", string(d.State)),
		attribute.Bool("in_covenant", d.InCovenant),
		attribute.String("tenant", tenant),
	)
	m.decisions.Add(ctx, 1, attrs)

	if errors.Is(err, gate.ErrAuditUnavailable) {
		m.auditFailures.Add(ctx, 1)
	}
	if errors.Is(err, telemetry.ErrInvalidSample) || errors.Is(err, trust.ErrConfiguration) {
		m.invalidInput.Add(ctx, 1)
		return
	}
	m.trustScore.Record(ctx, d.Trust, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// ObserveThrottled counts an allowed decision held back by the emit interval.
func (m *Metrics) ObserveThrottled(ctx context.Context, tenant string) {
	m.throttled.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}
