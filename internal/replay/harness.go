package replay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/danielpatrickdp/trustgate/internal/audit"
	"github.com/danielpatrickdp/trustgate/internal/gate"
	"github.com/danielpatrickdp/trustgate/internal/trust"
)

// Epoch is the fixed decision timestamp used during replay.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// #region types

// CaseResult captures the outcome of replaying one fixture case.
type CaseResult struct {
	Name       string
	Decision   gate.EmitDecision
	Err        error
	Mismatches []string
}

// Passed reports whether the case met every expectation.
func (r CaseResult) Passed() bool { return len(r.Mismatches) == 0 }

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total          int
	Passed         int
	Failed         int
	Allowed        int
	Denied         int
	CovenantDenied int
	Invalid        int
}

// #endregion types

// #region replay

// Run evaluates every case of f through a gate built from the fixture
// config and compares each decision to its expectation. Decision IDs and
// timestamps are deterministic so two runs of one fixture are identical.
func Run(ctx context.Context, f *Fixture) ([]CaseResult, error) {
	ring := audit.NewRingSink(len(f.Cases))
	seq := 0
	g, err := gate.NewGate(f.Config, ring,
		gate.WithClock(func() time.Time { return Epoch }),
		gate.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("replay-%04d", seq)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	results := make([]CaseResult, 0, len(f.Cases))
	for i := range f.Cases {
		c := &f.Cases[i]
		d, evalErr := g.Evaluate(ctx, c.ToRequest())
		if errors.Is(evalErr, gate.ErrAuditUnavailable) {
			return results, fmt.Errorf("replay case %q: %w", c.Name, evalErr)
		}
		results = append(results, CaseResult{
			Name:       c.Name,
			Decision:   d,
			Err:        evalErr,
			Mismatches: compare(c.Expected, d, evalErr),
		})
	}
	if ring.Total() != uint64(len(f.Cases)) {
		return results, fmt.Errorf("replay: recorded %d decisions for %d cases", ring.Total(), len(f.Cases))
	}
	return results, nil
}

func compare(want Expectation, d gate.EmitDecision, err error) []string {
	var out []string
	if d.Allowed != want.Allowed {
		out = append(out, fmt.Sprintf("allowed: got %v want %v", d.Allowed, want.Allowed))
	}
	if want.State != "" && d.State != want.State {
		out = append(out, fmt.Sprintf("state: got %s want %s", d.State, want.State))
	}
	if want.Trust != nil {
		tol := want.Tolerance
		if tol == 0 {
			tol = DefaultTolerance
		}
		if math.Abs(d.Trust-*want.Trust) > tol {
			out = append(out, fmt.Sprintf("trust: got %.6f want %.6f ±%g", d.Trust, *want.Trust, tol))
		}
	}
	if want.InCovenant != nil && d.InCovenant != *want.InCovenant {
		out = append(out, fmt.Sprintf("in_covenant: got %v want %v", d.InCovenant, *want.InCovenant))
	}
	if want.Invalid != (err != nil) {
		out = append(out, fmt.Sprintf("invalid: got err=%v want invalid=%v", err, want.Invalid))
	}
	return out
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []CaseResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
		switch {
		case r.Err != nil:
			s.Invalid++
			s.Denied++
		case r.Decision.Allowed:
			s.Allowed++
		case !r.Decision.InCovenant:
			s.CovenantDenied++
			s.Denied++
		default:
			s.Denied++
		}
	}
	return s
}

// #endregion replay

// #region verify

// Divergence is a recorded decision whose stored verdict cannot be
// reproduced from its own breakdown and weights.
type Divergence struct {
	ID     string
	Reason string
}

// Verify recomputes trust and the verdict for each recorded decision and
// reports any that differ. Trust must match bit for bit. Decisions denied
// for invalid input carry no breakdown and are only checked for state.
func Verify(decisions []gate.EmitDecision) []Divergence {
	var out []Divergence
	for _, d := range decisions {
		if msg := verifyOne(d); msg != "" {
			out = append(out, Divergence{ID: d.ID, Reason: msg})
		}
	}
	return out
}

func verifyOne(d gate.EmitDecision) string {
	if d.State != gate.StateAllowed && d.State != gate.StateDenied {
		return fmt.Sprintf("non-terminal state %q", d.State)
	}
	if d.Allowed != (d.State == gate.StateAllowed) {
		return fmt.Sprintf("allowed=%v contradicts state %s", d.Allowed, d.State)
	}
	if strings.HasPrefix(d.Reason, gate.ReasonInvalidInput) {
		if d.Allowed {
			return "invalid input recorded as allowed"
		}
		return ""
	}
	got := trust.Score(d.Breakdown, d.Weights)
	if math.Float64bits(got) != math.Float64bits(d.Trust) {
		return fmt.Sprintf("trust: recorded %v recomputed %v", d.Trust, got)
	}
	if want := gate.CanEmit(d.InCovenant, got, d.Threshold); want != d.Allowed {
		return fmt.Sprintf("verdict: recorded allowed=%v recomputed %v", d.Allowed, want)
	}
	return ""
}

// #endregion verify
