package render

import "math"

// Tier is the severity of a percentage metric.
type Tier string

const (
	TierNormal   Tier = "normal"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierCritical Tier = "critical"
)

// Severity orders tiers from 0 (normal) to 3 (critical).
func (t Tier) Severity() int {
	switch t {
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// FPSTier grades frame rate by perceived smoothness.
type FPSTier string

const (
	FPSExcellent FPSTier = "excellent"
	FPSGood      FPSTier = "good"
	FPSFair      FPSTier = "fair"
	FPSPoor      FPSTier = "poor"
	FPSCritical  FPSTier = "critical"
	// FPSUnavailable is used when no game process reports a frame rate.
	FPSUnavailable FPSTier = "unavailable"
)

// Rank orders FPS tiers from 0 (critical) to 4 (excellent). Unavailable
// ranks below everything.
func (t FPSTier) Rank() int {
	switch t {
	case FPSCritical:
		return 0
	case FPSPoor:
		return 1
	case FPSFair:
		return 2
	case FPSGood:
		return 3
	case FPSExcellent:
		return 4
	default:
		return -1
	}
}

var tierColors = map[Tier]string{
	TierNormal:   "#22c55e",
	TierMedium:   "#eab308",
	TierHigh:     "#f97316",
	TierCritical: "#ef4444",
}

var fpsTierColors = map[FPSTier]string{
	FPSExcellent:   "#22c55e",
	FPSGood:        "#84cc16",
	FPSFair:        "#eab308",
	FPSPoor:        "#f97316",
	FPSCritical:    "#ef4444",
	FPSUnavailable: "#9ca3af",
}

// Color returns the display color of t.
func (t Tier) Color() string { return tierColors[t] }

// Color returns the display color of t.
func (t FPSTier) Color() string { return fpsTierColors[t] }

// PercentTier maps a 0..100 reading to its severity tier. Out-of-range
// input is clamped first.
func PercentTier(v float64) Tier {
	v = clampPercent(v)
	switch {
	case v >= 90:
		return TierCritical
	case v >= 70:
		return TierHigh
	case v >= 50:
		return TierMedium
	default:
		return TierNormal
	}
}

// FPSTierFor maps a frame rate to its tier.
func FPSTierFor(fps float64) FPSTier {
	fps = clampFPS(fps)
	switch {
	case fps >= 60:
		return FPSExcellent
	case fps >= 45:
		return FPSGood
	case fps >= 30:
		return FPSFair
	case fps >= 15:
		return FPSPoor
	default:
		return FPSCritical
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampFPS(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}
