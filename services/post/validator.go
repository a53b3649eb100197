package post

import "fmt"

// budgetCapDivisorCents converts a campaign's daily budget in cents into an
// implied view-count cap. The divisor is a fixed CPM-equivalent floor and is
// deliberately independent of the post's real CPM; see DESIGN.md.
const budgetCapDivisorCents = 1000

// payoutCPMDivisor converts a per-mille rate into a per-view rate.
const payoutCPMDivisor = 1000

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Limits holds the tunable thresholds of the view-delta rules.
type Limits struct {
	MaxGrowthPercent float64
	MaxHourlyViews   int64
	MinTrustScore    int
}

func DefaultLimits() Limits {
	return Limits{
		MaxGrowthPercent: 300,
		MaxHourlyViews:   10000,
		MinTrustScore:    30,
	}
}

// ValidationInput is everything a single delta classification needs. The
// validator is a pure function over this struct.
type ValidationInput struct {
	Delta            int64
	LastCheckedViews int64
	TrustScore       int
	DailyBudgetCents *int64
}

// Verdict classifies one observed view-count delta. ReducedPayout signals
// the caller to attenuate the payout while still treating the delta as valid.
type Verdict struct {
	Passed        bool
	Reason        string
	Severity      Severity
	ReducedPayout bool
}

// Validate applies the fraud rules in a fixed order; the first failing rule
// wins. Ordering matters: the absolute growth-percentage check fires before
// trust-based attenuation, so a low-trust creator with catastrophic growth is
// rejected outright rather than merely discounted.
func Validate(in ValidationInput, lim Limits) Verdict {
	if in.Delta <= 0 {
		// not fraud, just a non-event; callers still refresh counters
		return Verdict{Passed: false, Reason: "No view growth", Severity: SeverityLow}
	}

	growthPercent := 100.0
	if in.LastCheckedViews > 0 {
		growthPercent = float64(in.Delta) / float64(in.LastCheckedViews) * 100
	}
	if growthPercent > lim.MaxGrowthPercent {
		return Verdict{
			Passed:   false,
			Reason:   fmt.Sprintf("View growth of %.1f%% exceeds maximum %.0f%%", growthPercent, lim.MaxGrowthPercent),
			Severity: SeverityHigh,
		}
	}

	if in.DailyBudgetCents != nil {
		viewCap := *in.DailyBudgetCents / budgetCapDivisorCents
		if in.Delta > viewCap {
			return Verdict{
				Passed:   false,
				Reason:   fmt.Sprintf("Delta of %d views exceeds the campaign daily budget cap of %d", in.Delta, viewCap),
				Severity: SeverityMedium,
			}
		}
	}

	if in.Delta > lim.MaxHourlyViews {
		return Verdict{
			Passed:   false,
			Reason:   fmt.Sprintf("Delta of %d views exceeds the hourly cap of %d", in.Delta, lim.MaxHourlyViews),
			Severity: SeverityHigh,
		}
	}

	if in.TrustScore < lim.MinTrustScore {
		return Verdict{
			Passed:        true,
			Reason:        "Low trust score, reduced payout",
			Severity:      SeverityLow,
			ReducedPayout: true,
		}
	}

	return Verdict{Passed: true}
}

// PayoutMultiplier attenuates earnings for low-trust creators.
func PayoutMultiplier(trustScore int) float64 {
	switch {
	case trustScore >= 70:
		return 1.0
	case trustScore >= 50:
		return 0.8
	default:
		return 0.5
	}
}
