package post

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func int64Ptr(v int64) *int64 { return &v }

func TestValidateRuleOrder(t *testing.T) {
	lim := DefaultLimits()

	tests := []struct {
		name          string
		in            ValidationInput
		wantPassed    bool
		wantSeverity  Severity
		wantReduced   bool
		wantReasonSub string
	}{
		{
			name:          "zero delta is a non-event",
			in:            ValidationInput{Delta: 0, LastCheckedViews: 1000, TrustScore: 80},
			wantPassed:    false,
			wantSeverity:  SeverityLow,
			wantReasonSub: "No view growth",
		},
		{
			name:          "negative delta is a non-event, not fraud",
			in:            ValidationInput{Delta: -200, LastCheckedViews: 1000, TrustScore: 80},
			wantPassed:    false,
			wantSeverity:  SeverityLow,
			wantReasonSub: "No view growth",
		},
		{
			name:          "growth above 300 percent rejected",
			in:            ValidationInput{Delta: 4000, LastCheckedViews: 1000, TrustScore: 80},
			wantPassed:    false,
			wantSeverity:  SeverityHigh,
			wantReasonSub: "exceeds maximum 300%",
		},
		{
			name:          "first observation counts as 100 percent growth",
			in:            ValidationInput{Delta: 500, LastCheckedViews: 0, TrustScore: 80},
			wantPassed:    true,
			wantSeverity:  "",
			wantReasonSub: "",
		},
		{
			name:          "budget-derived cap rejects before the absolute cap",
			in:            ValidationInput{Delta: 60, LastCheckedViews: 1000, TrustScore: 80, DailyBudgetCents: int64Ptr(50000)},
			wantPassed:    false,
			wantSeverity:  SeverityMedium,
			wantReasonSub: "daily budget cap",
		},
		{
			name:          "absolute hourly cap rejected",
			in:            ValidationInput{Delta: 10001, LastCheckedViews: 1000000, TrustScore: 80},
			wantPassed:    false,
			wantSeverity:  SeverityHigh,
			wantReasonSub: "hourly cap",
		},
		{
			name:          "low trust passes with reduced payout",
			in:            ValidationInput{Delta: 50, LastCheckedViews: 1000, TrustScore: 20},
			wantPassed:    true,
			wantSeverity:  SeverityLow,
			wantReduced:   true,
			wantReasonSub: "reduced payout",
		},
		{
			name:       "clean growth passes with no caveats",
			in:         ValidationInput{Delta: 50, LastCheckedViews: 1000, TrustScore: 80},
			wantPassed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.in, lim)
			require.Equal(t, tt.wantPassed, v.Passed)
			require.Equal(t, tt.wantSeverity, v.Severity)
			require.Equal(t, tt.wantReduced, v.ReducedPayout)
			if tt.wantReasonSub != "" {
				require.Contains(t, v.Reason, tt.wantReasonSub)
			} else {
				require.Empty(t, v.Reason)
			}
		})
	}
}

func TestValidatePercentageBeatsTrust(t *testing.T) {
	// a low-trust creator with catastrophic growth must be rejected outright,
	// not merely discounted
	v := Validate(ValidationInput{Delta: 4000, LastCheckedViews: 1000, TrustScore: 10}, DefaultLimits())
	require.False(t, v.Passed)
	require.Equal(t, SeverityHigh, v.Severity)
	require.False(t, v.ReducedPayout)
}

func TestValidateIsPure(t *testing.T) {
	in := ValidationInput{Delta: 4000, LastCheckedViews: 1000, TrustScore: 42, DailyBudgetCents: int64Ptr(900000)}
	lim := DefaultLimits()

	first := Validate(in, lim)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Validate(in, lim))
	}
}

func TestPayoutMultiplier(t *testing.T) {
	require.Equal(t, 1.0, PayoutMultiplier(70))
	require.Equal(t, 1.0, PayoutMultiplier(95))
	require.Equal(t, 0.8, PayoutMultiplier(50))
	require.Equal(t, 0.8, PayoutMultiplier(69))
	require.Equal(t, 0.5, PayoutMultiplier(49))
	require.Equal(t, 0.5, PayoutMultiplier(0))
}
