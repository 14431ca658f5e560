// Package trust maps telemetry signals to a bounded trust score.
package trust

import (
	"errors"
	"fmt"
	"math"
)

// Default weights observed across deployments. They are a starting point,
// not a contract; every deployment may override them.
const (
	DefaultAlphaCompliance  = 0.8
	DefaultAlphaAttestation = 0.5
	DefaultAlphaEntropy     = 0.7
)

// Weights scale each signal before the logistic map. All weights must be
// finite and non-negative.
type Weights struct {
	Compliance  float64 `json:"alpha_c" yaml:"compliance"`
	Attestation float64 `json:"alpha_tr" yaml:"attestation"`
	Entropy     float64 `json:"alpha_entropy" yaml:"entropy"`
}

// DefaultWeights returns {0.8, 0.5, 0.7}.
func DefaultWeights() Weights {
	return Weights{
		Compliance:  DefaultAlphaCompliance,
		Attestation: DefaultAlphaAttestation,
		Entropy:     DefaultAlphaEntropy,
	}
}

// Validate returns a *ConfigurationError for negative, NaN or infinite weights.
func (w Weights) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"alpha_c", w.Compliance},
		{"alpha_tr", w.Attestation},
		{"alpha_entropy", w.Entropy},
	} {
		switch {
		case math.IsNaN(f.v) || math.IsInf(f.v, 0):
			return &ConfigurationError{Field: f.name, Value: f.v, Reason: "must be finite"}
		case f.v < 0:
			return &ConfigurationError{Field: f.name, Value: f.v, Reason: "must be >= 0"}
		}
	}
	return nil
}

// ValidateThreshold rejects thresholds outside [0, 1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return &ConfigurationError{Field: "threshold", Value: threshold, Reason: "must be within [0, 1]"}
	}
	return nil
}

// ErrConfiguration matches any *ConfigurationError via errors.Is.
var ErrConfiguration = errors.New("invalid trust configuration")

// ConfigurationError reports a weight or threshold that would make the
// score meaningless.
type ConfigurationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid trust configuration: %s=%v %s", e.Field, e.Value, e.Reason)
}

// Is lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
