package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hed1ad/safestride/internal/profile"
)

// Fusion weights for the overall score.
const (
	WeightTyping = 0.4
	WeightMouse  = 0.3
	WeightScroll = 0.3
)

// Recommendation tier boundaries. A score equal to a boundary takes the
// higher tier.
const (
	ReauthenticateThreshold = 30.0
	LockThreshold           = 70.0
)

// FactorThreshold is the per-signal score above which a factor is reported.
const FactorThreshold = 30.0

// Confidence levels, chosen by the length of the typing history.
const (
	HighConfidence        = 0.85
	LowConfidence         = 0.6
	HighConfidenceSamples = 20
)

// Recommendation is the authentication action suggested for a session.
type Recommendation string

const (
	RecommendPass           Recommendation = "pass"
	RecommendReauthenticate Recommendation = "reauthenticate"
	RecommendLock           Recommendation = "lock"
)

// Recommend maps an overall score to a tier.
func Recommend(overall float64) Recommendation {
	switch {
	case overall < ReauthenticateThreshold:
		return RecommendPass
	case overall < LockThreshold:
		return RecommendReauthenticate
	default:
		return RecommendLock
	}
}

// Fuse combines per-signal scores into the overall score.
func Fuse(scores profile.Observation) float64 {
	return WeightTyping*scores[profile.SignalTyping] +
		WeightMouse*scores[profile.SignalMouse] +
		WeightScroll*scores[profile.SignalScroll]
}

// Confidence reports how much the baseline behind a score can be trusted.
func Confidence(typingSamples int) float64 {
	if typingSamples >= HighConfidenceSamples {
		return HighConfidence
	}
	return LowConfidence
}

var factorLabels = [...]string{
	profile.SignalTyping: "Typing anomaly",
	profile.SignalMouse:  "Mouse activity anomaly",
	profile.SignalScroll: "Scroll pattern anomaly",
}

// Factors lists a human-readable flag for each signal scoring above
// FactorThreshold. The result is never nil.
func Factors(scores profile.Observation) []string {
	out := make([]string, 0, len(profile.Signals))
	for _, s := range profile.Signals {
		if scores[s] > FactorThreshold {
			pct := decimal.NewFromFloat(scores[s]).Round(1).StringFixed(1)
			out = append(out, fmt.Sprintf("%s: %s%%", factorLabels[s], pct))
		}
	}
	return out
}

// round2 rounds a score for presentation.
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
