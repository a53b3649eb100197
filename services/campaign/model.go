package campaign

import "time"

type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusActive      Status = "ACTIVE"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
)

// Campaign is the advertiser-side entity both pipelines converge on. The
// reconciliation job reads its budget; the safety actuator owns the
// ACTIVE to UNDER_REVIEW transition.
type Campaign struct {
	CampaignID       string     `gorm:"column:campaign_id;primaryKey"`
	AdvertiserID     string     `gorm:"column:advertiser_id;index;not null"`
	Name             string     `gorm:"column:name;type:varchar(255);not null"`
	Status           Status     `gorm:"column:status;type:varchar(50);not null;default:'DRAFT';index"`
	CPMCents         int64      `gorm:"column:cpm_cents;not null;default:0"`
	DailyBudgetCents *int64     `gorm:"column:daily_budget_cents"`
	ReviewReason     *string    `gorm:"column:review_reason;type:text"`
	StartAt          *time.Time `gorm:"column:start_at"`
	EndAt            *time.Time `gorm:"column:end_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// IsActive checks whether the campaign is currently running based on time
// range and status.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return false
	}
	return true
}
