package entity

import "gorm.io/gorm"

// AutoMigrate 自动迁移所有生产表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 基础数据
		&Machine{},
		&Plate{},
		&MaterialType{},
		&Lot{},
		&Template{},
		&TemplateFile{},
		&TemplateUsage{},
		&PaymentChannel{},

		// 生产
		&Job{},
		&Task{},
		&MaterialUsage{},

		// 库存
		&Batch{},

		// 设置
		&Setting{},
		&ChangeVersion{},
		&SequenceCounter{},
	)
}
