package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// #region sample
// Sample is one observation window for one actor, produced by an external
// monitoring collaborator. Samples are never mutated after they are recorded.
type Sample struct {
	ActorID             string           `json:"actor_id"`
	PolicyChecks        int64            `json:"policy_checks"`
	PolicyPasses        int64            `json:"policy_passes"`
	AttestationRequired int64            `json:"attestation_required"`
	AttestationProvided int64            `json:"attestation_provided"`
	ActionHistogram     map[string]int64 `json:"action_histogram,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

// #endregion sample

// #region breakdown
// Breakdown holds the three scalar signals derived from a sample set.
// Each component is in [0, 1].
type Breakdown struct {
	Compliance  float64 `json:"compliance"`  // C: fraction of policy checks passed
	Attestation float64 `json:"attestation"` // Tr: fraction of required attestations provided
	Entropy     float64 `json:"entropy"`     // S: normalized Shannon entropy of actions
}

// #endregion breakdown

// #region errors
// ErrInvalidSample matches any *InvalidSampleError via errors.Is.
var ErrInvalidSample = errors.New("invalid telemetry sample")

// InvalidSampleError reports a sample that cannot be aggregated.
type InvalidSampleError struct {
	ActorID string
	Field   string
	Reason  string
}

func (e *InvalidSampleError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("invalid telemetry sample: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid telemetry sample for %s: %s: %s", e.ActorID, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidSample) match.
func (e *InvalidSampleError) Is(target error) bool {
	return target == ErrInvalidSample
}

// #endregion errors
