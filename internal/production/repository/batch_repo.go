package repository

import (
	"context"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
)

// BatchRepository 库存批次仓库
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository 创建库存批次仓库
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// FindByID 根据ID查找批次
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*entity.Batch, error) {
	var b entity.Batch
	if err := r.db.WithContext(ctx).Preload("Channel").Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindByIDForUpdate 加行锁读取批次
func (r *BatchRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Batch, error) {
	var b entity.Batch
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindPostProd 按 (工单, 名称) 查找后处理中的批次
func (r *BatchRepository) FindPostProd(ctx context.Context, jobID, name string) (*entity.Batch, error) {
	var b entity.Batch
	err := forUpdate(r.db.WithContext(ctx)).
		Where("job_id = ? AND name = ? AND status = ?", jobID, name, entity.BatchStatusPostProd).
		Order("created_at ASC").
		First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindInStockPeer 查找同一工单同一编号的另一个在库批次
func (r *BatchRepository) FindInStockPeer(ctx context.Context, b *entity.Batch) (*entity.Batch, error) {
	if b.JobID == nil {
		return nil, ErrNotFound
	}
	query := forUpdate(r.db.WithContext(ctx)).
		Where("job_id = ? AND status = ? AND id <> ?", *b.JobID, entity.BatchStatusInStock, b.ID)
	if b.SequenceCode != nil {
		query = query.Where("sequence_code = ?", *b.SequenceCode)
	} else {
		query = query.Where("sequence_code IS NULL")
	}
	var peer entity.Batch
	if err := query.Order("created_at ASC").First(&peer).Error; err != nil {
		return nil, notFound(err)
	}
	return &peer, nil
}

// Create 创建批次
func (r *BatchRepository) Create(ctx context.Context, b *entity.Batch) error {
	return r.db.WithContext(ctx).Omit("Channel").Create(b).Error
}

// Update 保存批次
func (r *BatchRepository) Update(ctx context.Context, b *entity.Batch) error {
	return r.db.WithContext(ctx).Omit("Channel").Save(b).Error
}

// Delete 删除批次
func (r *BatchRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Batch{}).Error
}

// ListByJob 工单产出的全部批次
func (r *BatchRepository) ListByJob(ctx context.Context, jobID string) ([]entity.Batch, error) {
	var batches []entity.Batch
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&batches).Error
	return batches, err
}

// SumQuantityByJob 工单产出批次数量合计
func (r *BatchRepository) SumQuantityByJob(ctx context.Context, jobID string) (int, error) {
	var result struct{ Total int }
	err := r.db.WithContext(ctx).Model(&entity.Batch{}).
		Select("COALESCE(SUM(quantity), 0) AS total").
		Where("job_id = ?", jobID).
		Scan(&result).Error
	return result.Total, err
}

// CountSoldByJob 工单已售批次数量
func (r *BatchRepository) CountSoldByJob(ctx context.Context, jobID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Batch{}).
		Where("job_id = ? AND status = ?", jobID, entity.BatchStatusSold).
		Count(&n).Error
	return n, err
}

// DeleteByJob 删除工单产出的全部批次
func (r *BatchRepository) DeleteByJob(ctx context.Context, jobID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&entity.Batch{})
	return res.RowsAffected, res.Error
}

// BatchListParams 批次列表查询参数
type BatchListParams struct {
	Status string
	JobID  string
	Page   int
	Size   int
}

// List 批次列表（分页）
func (r *BatchRepository) List(ctx context.Context, params BatchListParams) ([]entity.Batch, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Batch{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.JobID != "" {
		query = query.Where("job_id = ?", params.JobID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(params.Page, params.Size)
	var batches []entity.Batch
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&batches).Error
	return batches, total, err
}

// UpdateLease 只写租约字段
func (r *BatchRepository) UpdateLease(ctx context.Context, id string, lease entity.Lease) error {
	return r.db.WithContext(ctx).Model(&entity.Batch{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"locked_by": lease.LockedBy,
			"locked_at": lease.LockedAt,
		}).Error
}
