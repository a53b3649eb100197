package post

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("post.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TrackedPost{}, &ViewSnapshot{})
}
