package repository

import (
	"context"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
)

// MachineRepository 打印机仓库
type MachineRepository struct {
	db *gorm.DB
}

// NewMachineRepository 创建打印机仓库
func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// FindByID 根据ID查找打印机
func (r *MachineRepository) FindByID(ctx context.Context, id string) (*entity.Machine, error) {
	var m entity.Machine
	err := r.db.WithContext(ctx).Preload("Plates").Where("id = ?", id).First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindByIDs 批量查找打印机
func (r *MachineRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*entity.Machine, error) {
	result := make(map[string]*entity.Machine, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var machines []entity.Machine
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&machines).Error; err != nil {
		return nil, err
	}
	for i := range machines {
		result[machines[i].ID] = &machines[i]
	}
	return result, nil
}

// List 全部打印机
func (r *MachineRepository) List(ctx context.Context) ([]entity.Machine, error) {
	var machines []entity.Machine
	err := r.db.WithContext(ctx).Preload("Plates").Order("name ASC").Find(&machines).Error
	return machines, err
}

// Create 创建打印机
func (r *MachineRepository) Create(ctx context.Context, m *entity.Machine) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// PlateBelongsTo 平台是否属于打印机
func (r *MachineRepository) PlateBelongsTo(ctx context.Context, plateID, machineID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Plate{}).
		Where("id = ? AND machine_id = ?", plateID, machineID).
		Count(&n).Error
	return n > 0, err
}

// ResetMaintenance 重置保养计时
func (r *MachineRepository) ResetMaintenance(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&entity.Machine{}).
		Where("id = ?", id).
		Update("last_maintenance_reset", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
