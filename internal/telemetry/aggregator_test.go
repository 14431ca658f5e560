package telemetry

import (
	"errors"
	"math"
	"testing"
)

// #region helpers

func sample(checks, passes, required, provided int64, hist map[string]int64) Sample {
	return Sample{
		ActorID:             "agent-1",
		PolicyChecks:        checks,
		PolicyPasses:        passes,
		AttestationRequired: required,
		AttestationProvided: provided,
		ActionHistogram:     hist,
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// #endregion helpers

// #region aggregate-tests

func TestAggregate_MixedActions(t *testing.T) {
	b, err := Aggregate([]Sample{sample(10, 9, 4, 4, map[string]int64{"read": 5, "write": 5})})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !approx(b.Compliance, 0.9) {
		t.Errorf("expected C=0.9, got %f", b.Compliance)
	}
	if b.Attestation != 1.0 {
		t.Errorf("expected Tr=1.0, got %f", b.Attestation)
	}
	if b.Entropy != 1.0 {
		t.Errorf("expected S=1.0 for two equal keys, got %f", b.Entropy)
	}
}

func TestAggregate_SingleAction(t *testing.T) {
	b, err := Aggregate([]Sample{sample(10, 9, 4, 4, map[string]int64{"read": 10})})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if b.Entropy != 0 {
		t.Errorf("expected S=0 for a single action kind, got %f", b.Entropy)
	}
}

func TestAggregate_AcrossSamples(t *testing.T) {
	samples := []Sample{
		sample(4, 4, 2, 1, map[string]int64{"read": 3}),
		sample(6, 2, 2, 2, map[string]int64{"read": 1, "write": 4}),
	}
	b, err := Aggregate(samples)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !approx(b.Compliance, 0.6) {
		t.Errorf("expected C=6/10, got %f", b.Compliance)
	}
	if !approx(b.Attestation, 0.75) {
		t.Errorf("expected Tr=3/4, got %f", b.Attestation)
	}
	// merged {read:4, write:4} is uniform
	if b.Entropy != 1.0 {
		t.Errorf("expected S=1.0 for merged uniform histogram, got %f", b.Entropy)
	}
}

func TestAggregate_Empty(t *testing.T) {
	b, err := Aggregate(nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if b != (Breakdown{}) {
		t.Errorf("expected zero breakdown, got %+v", b)
	}
}

func TestAggregate_InvalidSampleRejected(t *testing.T) {
	_, err := Aggregate([]Sample{
		sample(1, 1, 0, 0, nil),
		sample(2, 3, 0, 0, nil),
	})
	if err == nil {
		t.Fatal("expected error for passes > checks")
	}
	if !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected ErrInvalidSample, got %v", err)
	}
	var ise *InvalidSampleError
	if !errors.As(err, &ise) {
		t.Fatalf("expected *InvalidSampleError, got %T", err)
	}
	if ise.Field != "policy_passes" {
		t.Errorf("expected field policy_passes, got %s", ise.Field)
	}
}

// #endregion aggregate-tests

// #region zero-denominator-tests

func TestZeroDenominators(t *testing.T) {
	c, err := ComplianceRate([]Sample{})
	if err != nil || c != 0 {
		t.Errorf("ComplianceRate([]) = %f, %v; want 0, nil", c, err)
	}
	tr, err := AttestationCoverage([]Sample{})
	if err != nil || tr != 0 {
		t.Errorf("AttestationCoverage([]) = %f, %v; want 0, nil", tr, err)
	}
	s, err := ActionEntropy([]Sample{})
	if err != nil || s != 0 {
		t.Errorf("ActionEntropy([]) = %f, %v; want 0, nil", s, err)
	}
}

func TestComplianceRate_NoChecks(t *testing.T) {
	c, err := ComplianceRate([]Sample{sample(0, 0, 3, 3, nil)})
	if err != nil {
		t.Fatalf("ComplianceRate: %v", err)
	}
	if c != 0 || math.IsNaN(c) {
		t.Errorf("expected C=0 with no checks, got %f", c)
	}
}

func TestActionEntropy_ZeroCountsIgnored(t *testing.T) {
	s, err := ActionEntropy([]Sample{sample(0, 0, 0, 0, map[string]int64{"read": 7, "write": 0})})
	if err != nil {
		t.Fatalf("ActionEntropy: %v", err)
	}
	if s != 0 {
		t.Errorf("expected zero-count keys to be ignored, got %f", s)
	}
}

// #endregion zero-denominator-tests

// #region entropy-tests

func TestActionEntropy_Skewed(t *testing.T) {
	s, err := ActionEntropy([]Sample{sample(0, 0, 0, 0, map[string]int64{"read": 9, "write": 1})})
	if err != nil {
		t.Fatalf("ActionEntropy: %v", err)
	}
	// H(0.9, 0.1) = 0.4690 bits, log2(2) = 1
	if math.Abs(s-0.4690) > 1e-4 {
		t.Errorf("expected ~0.4690, got %f", s)
	}
}

func TestActionEntropy_FourUniformKeys(t *testing.T) {
	s, err := ActionEntropy([]Sample{sample(0, 0, 0, 0, map[string]int64{"a": 2, "b": 2, "c": 2, "d": 2})})
	if err != nil {
		t.Fatalf("ActionEntropy: %v", err)
	}
	if !approx(s, 1.0) {
		t.Errorf("expected 1.0 for uniform distribution, got %f", s)
	}
}

func TestMergeHistograms(t *testing.T) {
	merged, err := MergeHistograms([]Sample{
		sample(0, 0, 0, 0, map[string]int64{"read": 2, "exec": 0}),
		sample(0, 0, 0, 0, map[string]int64{"read": 1, "write": 3}),
	})
	if err != nil {
		t.Fatalf("MergeHistograms: %v", err)
	}
	if len(merged) != 2 || merged["read"] != 3 || merged["write"] != 3 {
		t.Errorf("unexpected merge result: %v", merged)
	}
}

// #endregion entropy-tests

// #region validate-tests

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		s     Sample
		field string
	}{
		{"negative checks", sample(-1, 0, 0, 0, nil), "policy_checks"},
		{"negative passes", sample(1, -1, 0, 0, nil), "policy_passes"},
		{"negative required", sample(0, 0, -2, 0, nil), "attestation_required"},
		{"negative provided", sample(0, 0, 1, -1, nil), "attestation_provided"},
		{"provided exceeds required", sample(0, 0, 1, 2, nil), "attestation_provided"},
		{"negative histogram", sample(0, 0, 0, 0, map[string]int64{"read": -1}), "action_histogram[read]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.s)
			var ise *InvalidSampleError
			if !errors.As(err, &ise) {
				t.Fatalf("expected *InvalidSampleError, got %v", err)
			}
			if ise.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, ise.Field)
			}
		})
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(sample(3, 3, 2, 0, map[string]int64{"read": 0})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAggregate_Overflow(t *testing.T) {
	_, err := Aggregate([]Sample{
		sample(math.MaxInt64, 0, 0, 0, nil),
		sample(1, 0, 0, 0, nil),
	})
	if !errors.Is(err, ErrInvalidSample) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
}

func TestInvalidSampleError_Message(t *testing.T) {
	err := &InvalidSampleError{ActorID: "a1", Field: "policy_checks", Reason: "negative count"}
	want := "invalid telemetry sample for a1: policy_checks: negative count"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

// #endregion validate-tests
