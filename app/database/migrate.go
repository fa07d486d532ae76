package database

import (
	"grill-master/app/model"

	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB) error {
	// 自动迁移表结构
	return db.AutoMigrate(
		&model.Project{},
		&model.Task{},
		&model.TaskStepState{},
		&model.TaskEvent{},
		&model.WatchProgress{},
	)
}
