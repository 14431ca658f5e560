package trust

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/trustgate/internal/telemetry"
)

func TestScore_MixedActions(t *testing.T) {
	b := telemetry.Breakdown{Compliance: 0.9, Attestation: 1.0, Entropy: 1.0}
	assert.InDelta(t, 0.52, Logit(b, DefaultWeights()), 1e-12)
	assert.InDelta(t, 0.6271, Score(b, DefaultWeights()), 5e-4)
}

func TestScore_SingleAction(t *testing.T) {
	b := telemetry.Breakdown{Compliance: 0.9, Attestation: 1.0, Entropy: 0}
	assert.InDelta(t, 1.22, Logit(b, DefaultWeights()), 1e-12)
	assert.InDelta(t, 0.772, Score(b, DefaultWeights()), 5e-4)
}

func TestScore_ZeroSignals(t *testing.T) {
	assert.Equal(t, 0.5, Score(telemetry.Breakdown{}, DefaultWeights()))
}

func TestLogistic_Saturates(t *testing.T) {
	for _, x := range []float64{1e3, 1e308, math.Inf(1)} {
		got := Logistic(x)
		assert.Less(t, got, 1.0, "x=%v", x)
		assert.Equal(t, MaxScore, got, "x=%v", x)
	}
	for _, x := range []float64{-1e3, -1e308, math.Inf(-1)} {
		got := Logistic(x)
		assert.Greater(t, got, 0.0, "x=%v", x)
		assert.Equal(t, MinScore, got, "x=%v", x)
	}
	assert.Equal(t, MinScore, Logistic(math.NaN()))
}

func TestLogistic_Symmetric(t *testing.T) {
	for _, x := range []float64{0.1, 1, 5, 20} {
		assert.InDelta(t, 1.0, Logistic(x)+Logistic(-x), 1e-12)
	}
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	require.NoError(t, Weights{}.Validate())

	cases := map[string]Weights{
		"negative compliance": {Compliance: -0.1},
		"nan attestation":     {Attestation: math.NaN()},
		"infinite entropy":    {Entropy: math.Inf(1)},
	}
	for name, w := range cases {
		t.Run(name, func(t *testing.T) {
			err := w.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0))
	assert.NoError(t, ValidateThreshold(0.62))
	assert.NoError(t, ValidateThreshold(1))
	assert.ErrorIs(t, ValidateThreshold(-0.01), ErrConfiguration)
	assert.ErrorIs(t, ValidateThreshold(1.01), ErrConfiguration)
	assert.ErrorIs(t, ValidateThreshold(math.NaN()), ErrConfiguration)
}

func TestConfigurationError_Message(t *testing.T) {
	err := &ConfigurationError{Field: "alpha_c", Value: -1, Reason: "must be >= 0"}
	assert.Equal(t, "invalid trust configuration: alpha_c=-1 must be >= 0", err.Error())
}

func genWeights() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	).Map(func(v []interface{}) Weights {
		return Weights{Compliance: v[0].(float64), Attestation: v[1].(float64), Entropy: v[2].(float64)}
	})
}

func TestScoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	unit := gen.Float64Range(0, 1)

	properties.Property("score is in (0,1) and never NaN", prop.ForAll(
		func(c, tr, s float64, w Weights) bool {
			got := Score(telemetry.Breakdown{Compliance: c, Attestation: tr, Entropy: s}, w)
			return got > 0 && got < 1 && !math.IsNaN(got)
		},
		unit, unit, unit, genWeights(),
	))

	properties.Property("increasing compliance never decreases the score", prop.ForAll(
		func(c1, c2, tr, s float64, w Weights) bool {
			lo, hi := math.Min(c1, c2), math.Max(c1, c2)
			a := Score(telemetry.Breakdown{Compliance: lo, Attestation: tr, Entropy: s}, w)
			b := Score(telemetry.Breakdown{Compliance: hi, Attestation: tr, Entropy: s}, w)
			return b >= a
		},
		unit, unit, unit, unit, genWeights(),
	))

	properties.Property("increasing attestation never decreases the score", prop.ForAll(
		func(tr1, tr2, c, s float64, w Weights) bool {
			lo, hi := math.Min(tr1, tr2), math.Max(tr1, tr2)
			a := Score(telemetry.Breakdown{Compliance: c, Attestation: lo, Entropy: s}, w)
			b := Score(telemetry.Breakdown{Compliance: c, Attestation: hi, Entropy: s}, w)
			return b >= a
		},
		unit, unit, unit, unit, genWeights(),
	))

	properties.Property("increasing entropy never increases the score", prop.ForAll(
		func(s1, s2, c, tr float64, w Weights) bool {
			lo, hi := math.Min(s1, s2), math.Max(s1, s2)
			a := Score(telemetry.Breakdown{Compliance: c, Attestation: tr, Entropy: lo}, w)
			b := Score(telemetry.Breakdown{Compliance: c, Attestation: tr, Entropy: hi}, w)
			return b <= a
		},
		unit, unit, unit, unit, genWeights(),
	))

	properties.TestingRun(t)
}
