package repository

import (
	"context"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository 全局设置仓库
type SettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建设置仓库
func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Get 读取设置值
func (r *SettingRepository) Get(ctx context.Context, key string) (decimal.Decimal, error) {
	var s entity.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&s).Error; err != nil {
		return decimal.Zero, notFound(err)
	}
	return s.Value, nil
}

// All 读取全部设置
func (r *SettingRepository) All(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []entity.Setting
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]decimal.Decimal, len(rows))
	for _, s := range rows {
		result[s.Key] = s.Value
	}
	return result, nil
}

// Set 写入设置（存在则覆盖）
func (r *SettingRepository) Set(ctx context.Context, key string, value decimal.Decimal) error {
	s := entity.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&s).Error
}

// EnsureDefaults 写入缺失的默认值，已有值不覆盖
func (r *SettingRepository) EnsureDefaults(ctx context.Context, defaults map[string]decimal.Decimal) error {
	for key, value := range defaults {
		s := entity.Setting{Key: key, Value: value, UpdatedAt: time.Now()}
		err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error
		if err != nil {
			return err
		}
	}
	return nil
}
