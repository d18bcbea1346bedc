package repository

import (
	"context"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
)

// TemplateRepository 产品模板仓库
type TemplateRepository struct {
	db *gorm.DB
}

// NewTemplateRepository 创建模板仓库
func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindByID 根据ID查找模板（含打印文件和用量）
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*entity.Template, error) {
	var t entity.Template
	err := r.db.WithContext(ctx).
		Preload("Files", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("Files.Usages").
		Where("id = ?", id).
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Create 创建模板，打印文件和用量一并写入
func (r *TemplateRepository) Create(ctx context.Context, t *entity.Template) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Create(t).Error
}

// List 模板列表
func (r *TemplateRepository) List(ctx context.Context) ([]entity.Template, error) {
	var templates []entity.Template
	err := r.db.WithContext(ctx).Order("name ASC").Find(&templates).Error
	return templates, err
}
