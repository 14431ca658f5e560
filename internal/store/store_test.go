package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

func tempStore(t *testing.T) *SampleStore {
	t.Helper()
	s, err := NewSampleStore(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("NewSampleStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleAt(actor string, at time.Time, checks, passes int64) telemetry.Sample {
	return telemetry.Sample{
		ActorID:             actor,
		PolicyChecks:        checks,
		PolicyPasses:        passes,
		AttestationRequired: 2,
		AttestationProvided: 1,
		ActionHistogram:     map[string]int64{"read": 3, "write": 1},
		Timestamp:           at,
	}
}

func TestAppendAndWindow(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := s.Append(ctx, sampleAt("agent-1", t0.Add(time.Duration(i)*time.Minute), 10, int64(8+i)))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if id == "" {
			t.Fatal("expected sample id")
		}
	}
	s.Append(ctx, sampleAt("agent-2", t0, 1, 1))

	all, err := s.Window(ctx, "agent-1", time.Time{})
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(all))
	}
	if all[0].PolicyPasses != 8 || all[2].PolicyPasses != 10 {
		t.Fatalf("samples out of order: %+v", all)
	}
	if all[1].ActionHistogram["read"] != 3 || !all[1].Timestamp.Equal(t0.Add(time.Minute)) {
		t.Fatalf("round trip mismatch: %+v", all[1])
	}

	recent, _ := s.Window(ctx, "agent-1", t0.Add(time.Minute))
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent samples, got %d", len(recent))
	}

	between, _ := s.Between(ctx, "agent-1", t0, t0.Add(time.Minute))
	if len(between) != 1 {
		t.Fatalf("expected 1 sample in [t0, t0+1m), got %d", len(between))
	}
}

func TestAppendRejectsInvalid(t *testing.T) {
	s := tempStore(t)
	bad := sampleAt("agent-1", t0, 1, 2)
	if _, err := s.Append(context.Background(), bad); !errors.Is(err, telemetry.ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
}

func TestAppendBatchAtomic(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	batch := []telemetry.Sample{sampleAt("a", t0, 2, 1), sampleAt("a", t0, 2, 3)}
	if _, err := s.AppendBatch(ctx, batch); err == nil {
		t.Fatal("expected batch rejection")
	}
	got, _ := s.Window(ctx, "a", time.Time{})
	if len(got) != 0 {
		t.Fatalf("partial batch persisted: %d", len(got))
	}
}

func TestAppendDefaultsTimestamp(t *testing.T) {
	s := tempStore(t)
	s.now = func() time.Time { return t0 }
	sample := sampleAt("a", time.Time{}, 1, 1)
	if _, err := s.Append(context.Background(), sample); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, _ := s.Window(context.Background(), "a", time.Time{})
	if len(got) != 1 || !got[0].Timestamp.Equal(t0) {
		t.Fatalf("expected defaulted timestamp, got %+v", got)
	}
}

func TestActorsAndPrune(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	s.Append(ctx, sampleAt("b", t0, 1, 1))
	s.Append(ctx, sampleAt("a", t0.Add(time.Hour), 1, 1))

	actors, err := s.Actors(ctx)
	if err != nil {
		t.Fatalf("Actors: %v", err)
	}
	if len(actors) != 2 || actors[0] != "a" || actors[1] != "b" {
		t.Fatalf("actors = %v", actors)
	}

	n, err := s.Prune(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	actors, _ = s.Actors(ctx)
	if len(actors) != 1 || actors[0] != "a" {
		t.Fatalf("actors after prune = %v", actors)
	}
}

func TestWindowAggregates(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	s.Append(ctx, sampleAt("a", t0, 10, 9))
	s.Append(ctx, sampleAt("a", t0.Add(time.Second), 10, 7))

	samples, _ := s.Window(ctx, "a", time.Time{})
	b, err := telemetry.Aggregate(samples)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if b.Compliance != 0.8 || b.Attestation != 0.5 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
}
