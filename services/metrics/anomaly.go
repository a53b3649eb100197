package metrics

// Reason codes emitted by the anomaly scorer. Stable identifiers; downstream
// consumers match on them.
const (
	ReasonValidationRateTooHigh = "VALIDATION_RATE_TOO_HIGH"
	ReasonValidationRateTooLow  = "VALIDATION_RATE_TOO_LOW"
	ReasonIPConcentration       = "IP_CONCENTRATION_TOO_HIGH"
	ReasonGeoDiversityTooLow    = "GEO_DIVERSITY_TOO_LOW"
	ReasonAvgFraudScoreHigh     = "AVG_FRAUD_SCORE_HIGH"
	ReasonTrafficSpike          = "TRAFFIC_SPIKE_ANOMALY"
)

// minSampleSize is the data-volume floor below which the small-sample signals
// stay silent.
const minSampleSize = 10

// FlaggingPolicy gates flagging on both the summed score and the number of
// distinct corroborating reasons. With six possible reasons and per-signal
// points of 2-3, requiring five distinct reasons makes a single noisy metric
// insufficient to flag a creator.
type FlaggingPolicy struct {
	MinScore           int
	MinDistinctReasons int
}

func DefaultFlaggingPolicy() FlaggingPolicy {
	return FlaggingPolicy{MinScore: 5, MinDistinctReasons: 5}
}

func (p FlaggingPolicy) ShouldFlag(score int, reasons []string) bool {
	return score >= p.MinScore && len(reasons) >= p.MinDistinctReasons
}

// ScoreInput carries the per-day aggregates the scorer reads, plus the
// configured average-fraud-score limit.
type ScoreInput struct {
	TotalRecorded      int64
	TotalValidated     int64
	ValidationRate     float64
	UniqueIPs          int64
	GeoDiversityScore  float64
	AvgFraudScore      float64
	AvgFraudScoreLimit float64
	SpikePercent       float64
	Baseline           float64
}

// Score sums independent risk signals into an additive anomaly score. A day
// with no recorded traffic short-circuits to zero; inactivity is not a signal.
func Score(in ScoreInput) (int, []string) {
	if in.TotalRecorded == 0 {
		return 0, nil
	}

	score := 0
	var reasons []string

	if in.ValidationRate > 0.95 {
		score += 2
		reasons = append(reasons, ReasonValidationRateTooHigh)
	}
	if in.ValidationRate < 0.20 && in.TotalRecorded > minSampleSize {
		score += 3
		reasons = append(reasons, ReasonValidationRateTooLow)
	}
	if in.TotalValidated > minSampleSize && float64(in.UniqueIPs)/float64(in.TotalValidated) < 0.2 {
		score += 2
		reasons = append(reasons, ReasonIPConcentration)
	}
	if in.GeoDiversityScore < 0.1 && in.TotalValidated > minSampleSize {
		score += 3
		reasons = append(reasons, ReasonGeoDiversityTooLow)
	}
	if in.AvgFraudScore > in.AvgFraudScoreLimit {
		score += 3
		reasons = append(reasons, ReasonAvgFraudScoreHigh)
	}
	if in.SpikePercent > 300 && in.Baseline > 0 {
		score += 2
		reasons = append(reasons, ReasonTrafficSpike)
	}

	return score, reasons
}
