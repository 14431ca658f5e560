package telemetry

import (
	"math"
	"sort"
)

// #region validate

// Validate rejects samples whose counts cannot produce an in-range ratio.
func Validate(s Sample) error {
	counts := []struct {
		field string
		v     int64
	}{
		{"policy_checks", s.PolicyChecks},
		{"policy_passes", s.PolicyPasses},
		{"attestation_required", s.AttestationRequired},
		{"attestation_provided", s.AttestationProvided},
	}
	for _, c := range counts {
		if c.v < 0 {
			return &InvalidSampleError{ActorID: s.ActorID, Field: c.field, Reason: "negative count"}
		}
	}
	if s.PolicyPasses > s.PolicyChecks {
		return &InvalidSampleError{ActorID: s.ActorID, Field: "policy_passes", Reason: "exceeds policy_checks"}
	}
	if s.AttestationProvided > s.AttestationRequired {
		return &InvalidSampleError{ActorID: s.ActorID, Field: "attestation_provided", Reason: "exceeds attestation_required"}
	}
	for kind, n := range s.ActionHistogram {
		if n < 0 {
			return &InvalidSampleError{ActorID: s.ActorID, Field: "action_histogram[" + kind + "]", Reason: "negative count"}
		}
	}
	return nil
}

// #endregion validate

// #region aggregate

// Aggregate validates every sample and reduces the set to a Breakdown.
// The reduction is commutative: sample order never changes the result.
func Aggregate(samples []Sample) (Breakdown, error) {
	t, err := sum(samples)
	if err != nil {
		return Breakdown{}, err
	}
	return Breakdown{
		Compliance:  ratio(t.passes, t.checks),
		Attestation: ratio(t.provided, t.required),
		Entropy:     normalizedEntropy(t.histogram),
	}, nil
}

// ComplianceRate is sum(policy_passes) / sum(policy_checks), 0 when no checks ran.
func ComplianceRate(samples []Sample) (float64, error) {
	t, err := sum(samples)
	if err != nil {
		return 0, err
	}
	return ratio(t.passes, t.checks), nil
}

// AttestationCoverage is sum(attestation_provided) / sum(attestation_required),
// 0 when nothing was required.
func AttestationCoverage(samples []Sample) (float64, error) {
	t, err := sum(samples)
	if err != nil {
		return 0, err
	}
	return ratio(t.provided, t.required), nil
}

// ActionEntropy merges all action histograms and returns the Shannon entropy
// of the merged distribution normalized by log2 of the number of distinct
// actions seen. Returns 0 for empty input or a single action kind.
func ActionEntropy(samples []Sample) (float64, error) {
	t, err := sum(samples)
	if err != nil {
		return 0, err
	}
	return normalizedEntropy(t.histogram), nil
}

// MergeHistograms sums per-kind counts across samples. Zero counts are dropped.
func MergeHistograms(samples []Sample) (map[string]int64, error) {
	t, err := sum(samples)
	if err != nil {
		return nil, err
	}
	return t.histogram, nil
}

// #endregion aggregate

// #region helpers

type totals struct {
	checks, passes     int64
	required, provided int64
	histogram          map[string]int64
}

// sum validates and accumulates integer counts. Integer addition keeps the
// totals exact and order independent.
func sum(samples []Sample) (totals, error) {
	t := totals{histogram: make(map[string]int64)}
	for _, s := range samples {
		if err := Validate(s); err != nil {
			return totals{}, err
		}
		var ok bool
		if t.checks, ok = add(t.checks, s.PolicyChecks); !ok {
			return totals{}, overflow(s.ActorID, "policy_checks")
		}
		if t.passes, ok = add(t.passes, s.PolicyPasses); !ok {
			return totals{}, overflow(s.ActorID, "policy_passes")
		}
		if t.required, ok = add(t.required, s.AttestationRequired); !ok {
			return totals{}, overflow(s.ActorID, "attestation_required")
		}
		if t.provided, ok = add(t.provided, s.AttestationProvided); !ok {
			return totals{}, overflow(s.ActorID, "attestation_provided")
		}
		for kind, n := range s.ActionHistogram {
			if n == 0 {
				continue
			}
			if t.histogram[kind], ok = add(t.histogram[kind], n); !ok {
				return totals{}, overflow(s.ActorID, "action_histogram["+kind+"]")
			}
		}
	}
	return t, nil
}

func add(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func overflow(actorID, field string) error {
	return &InvalidSampleError{ActorID: actorID, Field: field, Reason: "count overflow"}
}

// ratio returns num/den, or 0 when den is 0.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return clamp(float64(num) / float64(den))
}

// normalizedEntropy walks keys in sorted order so the float sum is bit-identical
// across runs regardless of map iteration order.
func normalizedEntropy(hist map[string]int64) float64 {
	if len(hist) <= 1 {
		return 0
	}
	keys := make([]string, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var total float64
	for _, k := range keys {
		total += float64(hist[k])
	}
	if total == 0 {
		return 0
	}

	var h float64
	for _, k := range keys {
		p := float64(hist[k]) / total
		h -= p * math.Log2(p)
	}
	maxH := math.Log2(float64(len(keys)))
	if maxH == 0 {
		return 0
	}
	return clamp(h / maxH)
}

// clamp restricts v to [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
