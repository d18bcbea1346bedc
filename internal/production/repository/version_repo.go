package repository

import (
	"context"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionRepository 全局变更版本号仓库
type VersionRepository struct {
	db *gorm.DB
}

// NewVersionRepository 创建版本号仓库
func NewVersionRepository(db *gorm.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// EnsureInitialized 版本号行不存在时创建（版本 0）
func (r *VersionRepository) EnsureInitialized(ctx context.Context) error {
	row := entity.ChangeVersion{ID: entity.ChangeVersionID, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// Current 当前版本号
func (r *VersionRepository) Current(ctx context.Context) (int64, error) {
	var row entity.ChangeVersion
	err := r.db.WithContext(ctx).Where("id = ?", entity.ChangeVersionID).First(&row).Error
	if err != nil {
		return 0, notFound(err)
	}
	return row.Version, nil
}

// Bump 原子自增版本号并返回新值
func (r *VersionRepository) Bump(ctx context.Context) (int64, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&entity.ChangeVersion{}).
		Where("id = ?", entity.ChangeVersionID).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		if err := r.EnsureInitialized(ctx); err != nil {
			return 0, err
		}
		return r.Bump(ctx)
	}
	return r.Current(ctx)
}
