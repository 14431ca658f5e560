package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/config"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/store"
	"github.com/danielpatrickdp/trustgate/internal/telemetry"
	"github.com/danielpatrickdp/trustgate/internal/throttle"
)

const policyYAML = `
tenants:
  strict:
    threshold: 0.9
`

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func goodSample(actor string, at time.Time) telemetry.Sample {
	return telemetry.Sample{
		ActorID: actor, PolicyChecks: 10, PolicyPasses: 9,
		AttestationRequired: 4, AttestationProvided: 4,
		ActionHistogram: map[string]int64{"read": 10},
		Timestamp:       at,
	}
}

func newPipeline(t *testing.T, opts ...Option) (*Pipeline, *store.SampleStore, *audit.RingSink) {
	t.Helper()
	s, err := store.NewSampleStore(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	policy, err := config.ParsePolicy([]byte(policyYAML), gate.DefaultConfig())
	require.NoError(t, err)

	ring := audit.NewRingSink(100)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	p, err := New(s, policy, ring, opts...)
	require.NoError(t, err)
	return p, s, ring
}

func TestEvaluateActor_UsesStoredWindow(t *testing.T) {
	p, _, ring := newPipeline(t)
	ctx := context.Background()

	_, err := p.RecordSample(ctx, goodSample("agent-1", now.Add(-time.Minute)))
	require.NoError(t, err)

	out, err := p.EvaluateActor(ctx, Input{ActorID: "agent-1", Action: gate.ActionDescriptor{Kind: "deploy"}})
	require.NoError(t, err)
	assert.True(t, out.Proceed())
	assert.InDelta(t, 0.772, out.Decision.Trust, 5e-4)
	assert.Equal(t, 1, out.Decision.SampleCount)
	assert.Equal(t, 1, ring.Len())
}

func TestEvaluateActor_WindowExcludesOldSamples(t *testing.T) {
	p, _, _ := newPipeline(t, WithWindow(10*time.Minute))
	ctx := context.Background()

	bad := goodSample("agent-1", now.Add(-time.Hour))
	bad.PolicyPasses = 0
	_, err := p.RecordSample(ctx, bad)
	require.NoError(t, err)
	_, err = p.RecordSample(ctx, goodSample("agent-1", now.Add(-time.Minute)))
	require.NoError(t, err)

	out, err := p.EvaluateActor(ctx, Input{ActorID: "agent-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Decision.SampleCount)
	assert.Equal(t, 0.9, out.Decision.Breakdown.Compliance)
}

func TestEvaluate_TenantPolicy(t *testing.T) {
	p, _, _ := newPipeline(t)
	ctx := context.Background()
	samples := []telemetry.Sample{goodSample("agent-1", now)}

	def, err := p.Evaluate(ctx, Input{ActorID: "agent-1", Samples: samples})
	require.NoError(t, err)
	assert.True(t, def.Decision.Allowed)

	strict, err := p.Evaluate(ctx, Input{Tenant: "strict", ActorID: "agent-1", Samples: samples})
	require.NoError(t, err)
	assert.False(t, strict.Decision.Allowed)
	assert.Equal(t, 0.9, strict.Decision.Threshold)
}

func TestEvaluate_CovenantDenies(t *testing.T) {
	p, _, ring := newPipeline(t)
	out, err := p.Evaluate(context.Background(), Input{
		ActorID: "agent-1",
		Samples: []telemetry.Sample{goodSample("agent-1", now)},
		Tags:    []string{"forbid"},
	})
	require.NoError(t, err)
	assert.False(t, out.Proceed())
	assert.Equal(t, []string{"forbid"}, out.Decision.MatchedDenyTags)
	assert.Equal(t, gate.StateDenied, ring.Snapshot()[0].State)
}

func TestEvaluate_InvalidSample(t *testing.T) {
	p, _, ring := newPipeline(t)
	s := goodSample("agent-1", now)
	s.AttestationProvided = 5
	out, err := p.Evaluate(context.Background(), Input{ActorID: "agent-1", Samples: []telemetry.Sample{s}})
	assert.ErrorIs(t, err, telemetry.ErrInvalidSample)
	assert.False(t, out.Proceed())
	assert.Equal(t, 1, ring.Len())
}

func TestEvaluate_Throttle(t *testing.T) {
	p, _, ring := newPipeline(t, WithThrottle(throttle.NewEmitter(time.Hour)))
	ctx := context.Background()
	in := Input{ActorID: "agent-1", Samples: []telemetry.Sample{goodSample("agent-1", now)}}

	first, err := p.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.True(t, first.Proceed())

	second, err := p.Evaluate(ctx, in)
	require.NoError(t, err)
	assert.True(t, second.Throttled)
	assert.False(t, second.Proceed())
	assert.Equal(t, 2, ring.Len(), "throttled decisions are still recorded")
}

func TestEvaluate_Span(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	p, _, _ := newPipeline(t, WithTracer(tp.Tracer("test")))

	_, err := p.Evaluate(context.Background(), Input{Tenant: "strict", ActorID: "agent-1"})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "trustgate.evaluate", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "strict", attrs["trustgate.tenant"])
	assert.Equal(t, "denied", attrs["trustgate.state"])
}

type failingPolicy struct{}

func (failingPolicy) Key(tenant string) string { return tenant }

func (failingPolicy) For(tenant string) (gate.Config, error) {
	if tenant == "" {
		return gate.DefaultConfig(), nil
	}
	return gate.Config{}, errors.New("no such tenant")
}

func TestEvaluate_PolicyError(t *testing.T) {
	p, err := New(nil, failingPolicy{}, audit.NewRingSink(1))
	require.NoError(t, err)
	_, err = p.Evaluate(context.Background(), Input{Tenant: "ghost"})
	assert.ErrorContains(t, err, "ghost")

	_, err = p.RecordSample(context.Background(), goodSample("a", now))
	assert.Error(t, err)
	_, err = p.EvaluateActor(context.Background(), Input{ActorID: "a"})
	assert.Error(t, err)
}

func TestEvaluate_UnknownTenantsShareDefaultGate(t *testing.T) {
	p, _, _ := newPipeline(t)
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		_, err := p.Evaluate(ctx, Input{
			Tenant:  fmt.Sprintf("t%d", i),
			ActorID: "agent-1",
			Samples: []telemetry.Sample{goodSample("agent-1", now)},
		})
		require.NoError(t, err)
	}
	_, err := p.Evaluate(ctx, Input{Tenant: "strict", ActorID: "agent-1", Samples: []telemetry.Sample{goodSample("agent-1", now)}})
	require.NoError(t, err)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Len(t, p.gates, 2, "one gate for the default policy, one for strict")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, audit.NewRingSink(1))
	assert.Error(t, err)
	_, err = New(nil, config.StaticPolicy(gate.DefaultConfig()), nil)
	assert.ErrorIs(t, err, gate.ErrNilSink)
}
