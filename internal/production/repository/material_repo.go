package repository

import (
	"context"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaterialRepository 耗材仓库（类型 + 批次）
type MaterialRepository struct {
	db *gorm.DB
}

// NewMaterialRepository 创建耗材仓库
func NewMaterialRepository(db *gorm.DB) *MaterialRepository {
	return &MaterialRepository{db: db}
}

// FindTypeByID 查找耗材类型
func (r *MaterialRepository) FindTypeByID(ctx context.Context, id string) (*entity.MaterialType, error) {
	var mt entity.MaterialType
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&mt).Error; err != nil {
		return nil, notFound(err)
	}
	return &mt, nil
}

// CreateType 创建耗材类型
func (r *MaterialRepository) CreateType(ctx context.Context, mt *entity.MaterialType) error {
	return r.db.WithContext(ctx).Omit("Lots").Create(mt).Error
}

// ListTypes 耗材类型列表
func (r *MaterialRepository) ListTypes(ctx context.Context) ([]entity.MaterialType, error) {
	var types []entity.MaterialType
	err := r.db.WithContext(ctx).Order("material ASC, color_name ASC").Find(&types).Error
	return types, err
}

// FindLotByID 查找耗材批次
func (r *MaterialRepository) FindLotByID(ctx context.Context, id string) (*entity.Lot, error) {
	var lot entity.Lot
	err := r.db.WithContext(ctx).Preload("MaterialType").Where("id = ?", id).First(&lot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &lot, nil
}

// FindLotsByIDs 批量查找耗材批次
func (r *MaterialRepository) FindLotsByIDs(ctx context.Context, ids []string) (map[string]*entity.Lot, error) {
	result := make(map[string]*entity.Lot, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var lots []entity.Lot
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&lots).Error; err != nil {
		return nil, err
	}
	for i := range lots {
		result[lots[i].ID] = &lots[i]
	}
	return result, nil
}

// CreateLot 创建耗材批次
func (r *MaterialRepository) CreateLot(ctx context.Context, lot *entity.Lot) error {
	return r.db.WithContext(ctx).Omit("MaterialType").Create(lot).Error
}

// UpdateLot 更新耗材批次
func (r *MaterialRepository) UpdateLot(ctx context.Context, lot *entity.Lot) error {
	return r.db.WithContext(ctx).Omit("MaterialType").Save(lot).Error
}

// ListLots 耗材批次列表，activeOnly 为 true 时只返回在用批次
func (r *MaterialRepository) ListLots(ctx context.Context, typeID string, activeOnly bool) ([]entity.Lot, error) {
	query := r.db.WithContext(ctx).Preload("MaterialType")
	if typeID != "" {
		query = query.Where("material_type_id = ?", typeID)
	}
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var lots []entity.Lot
	err := query.Order("purchase_date ASC, identifier ASC").Find(&lots).Error
	return lots, err
}

// FirstActiveLot 某耗材类型最早采购的在用批次
func (r *MaterialRepository) FirstActiveLot(ctx context.Context, typeID string) (*entity.Lot, error) {
	var lot entity.Lot
	err := r.db.WithContext(ctx).
		Where("material_type_id = ? AND active = ?", typeID, true).
		Order("purchase_date ASC, identifier ASC").
		First(&lot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &lot, nil
}

// CohortIdentifiers 同一耗材类型在 [from, to) 期间采购批次已使用的字母
func (r *MaterialRepository) CohortIdentifiers(ctx context.Context, typeID string, from, to time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.Lot{}).
		Where("material_type_id = ? AND purchase_date >= ? AND purchase_date < ?", typeID, from, to).
		Pluck("identifier", &ids).Error
	return ids, err
}

// ConsumedGrams 各批次在 DONE/FAILED 任务上已计入的克数
func (r *MaterialRepository) ConsumedGrams(ctx context.Context, lotIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(lotIDs))
	if len(lotIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		LotID string
		Grams decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Table("prod_material_usages").
		Select("prod_material_usages.lot_id, prod_material_usages.grams").
		Joins("JOIN prod_tasks ON prod_tasks.id = prod_material_usages.task_id").
		Where("prod_material_usages.lot_id IN ?", lotIDs).
		Where("prod_tasks.status IN ?", []string{entity.TaskStatusDone, entity.TaskStatusFailed}).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.LotID] = result[row.LotID].Add(row.Grams)
	}
	return result, nil
}
