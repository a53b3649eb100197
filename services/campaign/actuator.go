package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trafficguard/services/metrics"
	"trafficguard/services/notify"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("campaign.actuator",
	fx.Provide(
		NewActuator,
		func(a *Actuator) metrics.Escalator { return a },
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Campaign{})
}

// fraudScoreSignalThreshold gates the secondary fraud-score signal.
const fraudScoreSignalThreshold = 30

// Actuator is a pure side-effect dispatcher. It owns no state; idempotency
// comes from the conditional status transition on the campaign row.
type Actuator struct {
	db       *gorm.DB
	notifier notify.Notifier
}

type ActuatorParams struct {
	fx.In

	DB       *gorm.DB
	Notifier notify.Notifier
}

func NewActuator(p ActuatorParams) *Actuator {
	return &Actuator{
		db:       p.DB,
		notifier: p.Notifier,
	}
}

// Escalate moves the flagged pair's campaign into review and raises the fraud
// signals. The status transition is a conditional update; if the campaign is
// no longer ACTIVE (a concurrent run already escalated, or an operator
// resolved it), the call is a no-op and no notifications fire. Side-effect
// failures after the transition are logged and swallowed; they never roll the
// transition back.
func (a *Actuator) Escalate(ctx context.Context, m *metrics.CreatorTrafficMetrics) error {
	reasons := m.ReasonList()
	reason := strings.Join(reasons, ", ")

	res := a.db.WithContext(ctx).Model(&Campaign{}).
		Where("campaign_id = ? AND status = ?", m.CampaignID, StatusActive).
		Updates(map[string]interface{}{
			"status":        StatusUnderReview,
			"review_reason": reason,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		zap.L().Error("failed to transition campaign to review",
			zap.String("campaign_id", m.CampaignID),
			zap.Error(res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		zap.L().Debug("campaign not active, skipping escalation",
			zap.String("campaign_id", m.CampaignID))
		return nil
	}

	zap.L().Warn("campaign moved under review",
		zap.String("campaign_id", m.CampaignID),
		zap.String("creator_id", m.CreatorID),
		zap.Int("anomaly_score", m.AnomalyScore),
		zap.String("reasons", reason))

	if err := a.notifier.NotifyUser(ctx, notify.UserNotification{
		UserID: m.CreatorID,
		Title:  "Campaign traffic under review",
		Body:   fmt.Sprintf("Unusual traffic was detected on campaign %s: %s", m.CampaignID, reason),
	}); err != nil {
		zap.L().Error("failed to notify creator", zap.String("creator_id", m.CreatorID), zap.Error(err))
	}

	if err := a.notifier.NotifyFraudDetected(ctx, notify.FraudDetected{
		CampaignID: m.CampaignID,
		Reason:     reason,
	}); err != nil {
		zap.L().Error("failed to raise fraud detected signal",
			zap.String("campaign_id", m.CampaignID),
			zap.Error(err))
	}

	if m.AvgFraudScore > fraudScoreSignalThreshold {
		if err := a.notifier.NotifyFraudScoreExceeded(ctx, notify.FraudScoreExceeded{
			CreatorID:  m.CreatorID,
			CampaignID: m.CampaignID,
			Score:      m.AvgFraudScore,
		}); err != nil {
			zap.L().Error("failed to raise fraud score signal",
				zap.String("campaign_id", m.CampaignID),
				zap.Error(err))
		}
	}

	return nil
}
