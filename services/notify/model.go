package notify

import "time"

type Scope string

type Type string

type Priority string

const (
	ScopeUser Scope = "USER"

	TypeFraudDetected Type = "FRAUD_DETECTED"

	PriorityP1High Priority = "P1_HIGH"
)

// Notification is an in-app message row surfaced to the creator.
type Notification struct {
	ID        string     `gorm:"column:id;primaryKey"`
	Scope     Scope      `gorm:"column:scope;type:varchar(20);not null"`
	UserID    string     `gorm:"column:user_id;index;not null"`
	Type      Type       `gorm:"column:type;type:varchar(50);not null"`
	Priority  Priority   `gorm:"column:priority;type:varchar(20);not null"`
	Title     string     `gorm:"column:title;type:varchar(255)"`
	Body      string     `gorm:"column:body;type:text"`
	ReadAt    *time.Time `gorm:"column:read_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}
