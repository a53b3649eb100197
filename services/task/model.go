package task

import (
	"time"

	"gorm.io/datatypes"
)

// Task type identifiers used for asynq dispatch and job records.
const (
	TypeReconcile     = "traffic:reconcile"
	TypeAggregate     = "traffic:aggregate"
	TypeRefreshStatus = "traffic:refresh_status"
	TypePayoutDrain   = "payout:drain"
)

// Job is the execution record of one batch-job run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey"`
	TaskType    string         `gorm:"column:task_type;index;not null"`
	Status      string         `gorm:"column:status;type:varchar(20);default:'pending'"` // pending|running|success|failed
	ErrorMsg    string         `gorm:"column:error_msg;type:text"`
	StartedAt   *time.Time     `gorm:"column:started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime"`
	Result      datatypes.JSON `gorm:"column:result"`
}

func (Job) TableName() string {
	return "jobs"
}
