package trust

import (
	"math"

	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

// Saturation bounds. The score never reaches exactly 0 or 1.
var (
	MinScore = math.SmallestNonzeroFloat64
	MaxScore = math.Nextafter(1, 0)
)

// Logit returns the weighted sum fed to the logistic function:
// αC·C + αTr·Tr − αS·S.
func Logit(b telemetry.Breakdown, w Weights) float64 {
	return w.Compliance*b.Compliance + w.Attestation*b.Attestation - w.Entropy*b.Entropy
}

// Score returns logistic(Logit(b, w)) in the open interval (0, 1).
// Increasing in compliance and attestation, decreasing in entropy.
func Score(b telemetry.Breakdown, w Weights) float64 {
	return Logistic(Logit(b, w))
}

// Logistic is 1/(1+e^-x), evaluated in the form that cannot overflow for
// either sign of x and saturated to [MinScore, MaxScore]. NaN maps to MinScore.
func Logistic(x float64) float64 {
	if math.IsNaN(x) {
		return MinScore
	}
	var t float64
	if x >= 0 {
		t = 1 / (1 + math.Exp(-x))
	} else {
		e := math.Exp(x)
		t = e / (1 + e)
	}
	if t < MinScore {
		return MinScore
	}
	if t > MaxScore {
		return MaxScore
	}
	return t
}
