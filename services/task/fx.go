package task

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(migrate),
)

// Worker additionally binds the asynq handlers and the scheduler loops; only
// the worker binary uses it.
var Worker = fx.Module("task.worker",
	fx.Invoke(
		RegisterHandlers,
		StartScheduler,
	),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}
