package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository 工单仓库
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository 创建工单仓库
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindByID 根据ID查找工单（含任务、用量、模板）
func (r *JobRepository) FindByID(ctx context.Context, id string) (*entity.Job, error) {
	var job entity.Job
	err := r.db.WithContext(ctx).
		Preload("Template").
		Preload("Tasks", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Tasks.Machine").
		Preload("Tasks.Usages").
		Preload("Tasks.Usages.Lot").
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// FindByIDForUpdate 加行锁读取工单（不含关联）
func (r *JobRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Job, error) {
	var job entity.Job
	err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// Create 创建工单
func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	return r.db.WithContext(ctx).Omit("Tasks", "Template").Create(job).Error
}

// Update 保存工单本身（不级联任务）
func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	return r.db.WithContext(ctx).Omit("Tasks", "Template").Save(job).Error
}

// UpdateStatus 只更新状态
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// TaskStatuses 获取工单下所有任务状态
func (r *JobRepository) TaskStatuses(ctx context.Context, jobID string) ([]string, error) {
	var statuses []string
	err := r.db.WithContext(ctx).Model(&entity.Task{}).
		Where("job_id = ?", jobID).
		Pluck("status", &statuses).Error
	return statuses, err
}

// JobListParams 工单列表查询参数
type JobListParams struct {
	Status  string
	Keyword string
	Page    int
	Size    int
}

// List 工单列表（分页）
func (r *JobRepository) List(ctx context.Context, params JobListParams) ([]entity.Job, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Job{})
	if params.Status != "" {
		query = query.Where("status = ?", params.Status)
	}
	if params.Keyword != "" {
		kw := "%" + params.Keyword + "%"
		query = query.Where("name LIKE ? OR sequence_code LIKE ?", kw, kw)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page, size := normalizePage(params.Page, params.Size)
	var jobs []entity.Job
	err := query.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&jobs).Error
	return jobs, total, err
}

// NextSequenceCode 生成期间内下一个对外编号：两位年份 + 三位流水，如 26001
// 必须在事务内调用：计数器行的 UPDATE 持有行锁直到提交，并发完工依次取号。
func (r *JobRepository) NextSequenceCode(ctx context.Context, period string) (string, error) {
	db := r.db.WithContext(ctx)

	seed, err := r.maxSequence(ctx, period)
	if err != nil {
		return "", err
	}
	counter := entity.SequenceCounter{Period: period, LastNumber: seed}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return "", err
	}
	err = db.Model(&entity.SequenceCounter{}).
		Where("period = ?", period).
		Update("last_number", gorm.Expr("last_number + 1")).Error
	if err != nil {
		return "", err
	}
	if err := db.Where("period = ?", period).First(&counter).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%03d", period, counter.LastNumber), nil
}

// maxSequence 已有编号中的最大流水，用于计数器首次建行
func (r *JobRepository) maxSequence(ctx context.Context, period string) (int, error) {
	var codes []string
	err := r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("sequence_code LIKE ?", period+"%").
		Pluck("sequence_code", &codes).Error
	if err != nil {
		return 0, err
	}
	last := 0
	for _, code := range codes {
		if len(code) != len(period)+3 {
			continue
		}
		n, convErr := strconv.Atoi(code[len(period):])
		if convErr != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	return last, nil
}

// UpdateLease 只写租约字段
func (r *JobRepository) UpdateLease(ctx context.Context, id string, lease entity.Lease) error {
	return r.db.WithContext(ctx).Model(&entity.Job{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"locked_by": lease.LockedBy,
			"locked_at": lease.LockedAt,
		}).Error
}
