package post

import (
	"time"
)

type PostStatus string

const (
	StatusPending   PostStatus = "PENDING"
	StatusActive    PostStatus = "ACTIVE"
	StatusFlagged   PostStatus = "FLAGGED"
	StatusRejected  PostStatus = "REJECTED"
	StatusPaused    PostStatus = "PAUSED"
	StatusCompleted PostStatus = "COMPLETED"
)

// TrackedPost is a creator's submitted video being monitored for a campaign.
// View counters always track platform truth; only total_validated_views gates
// money, and it never decreases.
type TrackedPost struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	CampaignID          string     `gorm:"column:campaign_id;index;not null"`
	CreatorID           string     `gorm:"column:creator_id;index;not null"`
	ExternalID          string     `gorm:"column:external_id;index;not null"`
	Title               string     `gorm:"column:title;type:varchar(255)"`
	ThumbnailURL        string     `gorm:"column:thumbnail_url;type:text"`
	PrivacyStatus       string     `gorm:"column:privacy_status;type:varchar(50)"`
	CPMCents            int64      `gorm:"column:cpm_cents;not null"`
	CurrentViews        int64      `gorm:"column:current_views;not null;default:0"`
	LastCheckedViews    int64      `gorm:"column:last_checked_views;not null;default:0"`
	TotalValidatedViews int64      `gorm:"column:total_validated_views;not null;default:0"`
	LikeCount           int64      `gorm:"column:like_count;not null;default:0"`
	CommentCount        int64      `gorm:"column:comment_count;not null;default:0"`
	TrustScoreSnapshot  int        `gorm:"column:trust_score_snapshot;not null;default:0"`
	DailyViewCap        *int64     `gorm:"column:daily_view_cap"`
	Status              PostStatus `gorm:"column:status;type:varchar(50);not null;default:'PENDING'"`
	FlagReason          *string    `gorm:"column:flag_reason;type:text"`
	LastCheckedAt       *time.Time `gorm:"column:last_checked_at;index"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (TrackedPost) TableName() string {
	return "tracked_posts"
}

// ViewSnapshot is the immutable audit record of one reconciliation
// observation. Exactly one row per (post, run); never mutated after creation
// except for the payout backfill written in the same run.
type ViewSnapshot struct {
	ID                string    `gorm:"column:id;primaryKey"`
	PostID            string    `gorm:"column:post_id;index;not null"`
	ViewCount         int64     `gorm:"column:view_count;not null"`
	LikeCount         int64     `gorm:"column:like_count;not null"`
	CommentCount      int64     `gorm:"column:comment_count;not null"`
	DeltaViews        int64     `gorm:"column:delta_views;not null"`
	IsValidated       bool      `gorm:"column:is_validated;not null;default:false"`
	ValidationReason  string    `gorm:"column:validation_reason;type:text"`
	IsFlagged         bool      `gorm:"column:is_flagged;not null;default:false"`
	FlagReason        string    `gorm:"column:flag_reason;type:text"`
	PayoutAmountCents *int64    `gorm:"column:payout_amount_cents"`
	PayoutQueueID     *string   `gorm:"column:payout_queue_id"`
	CheckedAt         time.Time `gorm:"column:checked_at;index;not null"`
}

func (ViewSnapshot) TableName() string {
	return "view_snapshots"
}
