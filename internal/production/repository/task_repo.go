package repository

import (
	"context"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"gorm.io/gorm"
)

// TaskRepository 打印任务仓库
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID 根据ID查找任务（含机器、用量）
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*entity.Task, error) {
	var task entity.Task
	err := r.db.WithContext(ctx).
		Preload("Machine").
		Preload("Usages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Usages.Lot").
		Where("id = ?", id).
		First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// FindByIDForUpdate 加行锁读取任务
func (r *TaskRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Task, error) {
	var task entity.Task
	err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

// FindByIDs 批量查找任务
func (r *TaskRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Task, error) {
	var tasks []entity.Task
	if len(ids) == 0 {
		return tasks, nil
	}
	err := forUpdate(r.db.WithContext(ctx)).Where("id IN ?", ids).Find(&tasks).Error
	return tasks, err
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	return r.db.WithContext(ctx).Omit("Machine", "Usages").Create(task).Error
}

// Update 保存任务本身（不级联用量）
func (r *TaskRepository) Update(ctx context.Context, task *entity.Task) error {
	return r.db.WithContext(ctx).Omit("Machine", "Usages").Save(task).Error
}

// Delete 删除任务及其用量
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("task_id = ?", id).Delete(&entity.MaterialUsage{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&entity.Task{}).Error
}

// ListByJob 获取工单下的任务
func (r *TaskRepository) ListByJob(ctx context.Context, jobID string) ([]entity.Task, error) {
	var tasks []entity.Task
	err := r.db.WithContext(ctx).
		Preload("Usages").
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

// ListNamesByJob 获取工单下任务名称
func (r *TaskRepository) ListNamesByJob(ctx context.Context, jobID string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&entity.Task{}).
		Where("job_id = ?", jobID).
		Pluck("name", &names).Error
	return names, err
}

// DemotePrinting 把同一台机器上其他 PRINTING 任务退回 TODO，返回被退回任务所属的工单ID（去重）
func (r *TaskRepository) DemotePrinting(ctx context.Context, machineID, exceptTaskID string, now time.Time) ([]string, error) {
	var displaced []entity.Task
	err := forUpdate(r.db.WithContext(ctx)).
		Where("machine_id = ? AND status = ? AND id <> ?", machineID, entity.TaskStatusPrinting, exceptTaskID).
		Find(&displaced).Error
	if err != nil || len(displaced) == 0 {
		return nil, err
	}

	ids := make([]string, 0, len(displaced))
	seen := make(map[string]bool, len(displaced))
	var jobIDs []string
	for _, t := range displaced {
		ids = append(ids, t.ID)
		if !seen[t.JobID] {
			seen[t.JobID] = true
			jobIDs = append(jobIDs, t.JobID)
		}
	}
	err = r.db.WithContext(ctx).Model(&entity.Task{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     entity.TaskStatusTodo,
			"started_at": nil,
			"updated_at": now,
		}).Error
	if err != nil {
		return nil, err
	}
	return jobIDs, nil
}

// CountPrinting 统计机器上 PRINTING 任务数
func (r *TaskRepository) CountPrinting(ctx context.Context, machineID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Task{}).
		Where("machine_id = ? AND status = ?", machineID, entity.TaskStatusPrinting).
		Count(&n).Error
	return n, err
}

// UpdateQueuePosition 设置任务所属机器和队列位置，换机器时清空平台
func (r *TaskRepository) UpdateQueuePosition(ctx context.Context, taskID, machineID string, position int, clearPlate bool) error {
	values := map[string]interface{}{
		"machine_id":     machineID,
		"queue_position": position,
	}
	if clearPlate {
		values["plate_id"] = nil
	}
	return r.db.WithContext(ctx).Model(&entity.Task{}).
		Where("id = ?", taskID).
		Updates(values).Error
}

// ListQueued 获取队列中的任务：任务 TODO/PRINTING 且所属工单 TODO/PRINTING
func (r *TaskRepository) ListQueued(ctx context.Context) ([]entity.Task, error) {
	var tasks []entity.Task
	err := r.db.WithContext(ctx).
		Joins("JOIN prod_jobs ON prod_jobs.id = prod_tasks.job_id").
		Where("prod_tasks.status IN ?", []string{entity.TaskStatusTodo, entity.TaskStatusPrinting}).
		Where("prod_jobs.status IN ?", []string{entity.JobStatusTodo, entity.JobStatusPrinting}).
		Preload("Usages").
		Preload("Usages.Lot").
		Order("prod_tasks.queue_position ASC, prod_tasks.created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// ReplaceUsages 先删除任务全部用量再写入新的用量
func (r *TaskRepository) ReplaceUsages(ctx context.Context, taskID string, usages []entity.MaterialUsage) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("task_id = ?", taskID).Delete(&entity.MaterialUsage{}).Error; err != nil {
		return err
	}
	if len(usages) == 0 {
		return nil
	}
	return db.Omit("Lot").Create(&usages).Error
}

// ListUsages 获取任务用量
func (r *TaskRepository) ListUsages(ctx context.Context, taskID string) ([]entity.MaterialUsage, error) {
	var usages []entity.MaterialUsage
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC, id ASC").
		Find(&usages).Error
	return usages, err
}

// PrintedSecondsSince 机器自某时刻以来完成任务的打印秒数
func (r *TaskRepository) PrintedSecondsSince(ctx context.Context, machineID string, since time.Time) (int64, error) {
	var result struct{ Total int64 }
	err := r.db.WithContext(ctx).Model(&entity.Task{}).
		Select("COALESCE(SUM(duration_seconds), 0) AS total").
		Where("machine_id = ? AND status = ? AND finished_at >= ?", machineID, entity.TaskStatusDone, since).
		Scan(&result).Error
	return result.Total, err
}

// MaxQueuePosition 机器队列当前最大位置，空队列返回 -1
func (r *TaskRepository) MaxQueuePosition(ctx context.Context, machineID string) (int, error) {
	var result struct{ Max *int }
	err := r.db.WithContext(ctx).Model(&entity.Task{}).
		Select("MAX(queue_position) AS max").
		Where("machine_id = ? AND status = ?", machineID, entity.TaskStatusTodo).
		Scan(&result).Error
	if err != nil || result.Max == nil {
		return -1, err
	}
	return *result.Max, nil
}
