package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobService 工单状态机、完工入库、重新打开
type JobService struct {
	core      *core
	settings  *SettingsService
	allocator *AllocatorService
}

// CreateJobInput 创建工单
type CreateJobInput struct {
	Name       string  `json:"name" binding:"required"`
	TemplateID *string `json:"template_id"`
	Priority   string  `json:"priority"`
	PlannedQty int     `json:"planned_qty"`
	Status     string  `json:"status"` // QUOTE（默认）或 TODO
	Notes      string  `json:"notes"`
}

func validPriority(p string) bool {
	switch p {
	case entity.JobPriorityUrgent, entity.JobPriorityHigh, entity.JobPriorityMedium, entity.JobPriorityLow:
		return true
	}
	return false
}

// Create 创建工单
func (s *JobService) Create(ctx context.Context, actorID string, input *CreateJobInput) (*entity.Job, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("工单名称不能为空")
	}
	priority := input.Priority
	if priority == "" {
		priority = entity.JobPriorityMedium
	}
	if !validPriority(priority) {
		return nil, invalid("无效的优先级: %s", input.Priority)
	}
	planned := input.PlannedQty
	if planned == 0 {
		planned = 1
	}
	if planned < 0 {
		return nil, invalid("计划数量必须大于 0")
	}
	status := input.Status
	if status == "" {
		status = entity.JobStatusQuote
	}
	if status != entity.JobStatusQuote && status != entity.JobStatusTodo {
		return nil, invalid("新工单只能是 QUOTE 或 TODO")
	}

	now := s.core.now()
	job := &entity.Job{
		ID:         uuid.New().String(),
		TemplateID: input.TemplateID,
		Name:       name,
		Priority:   priority,
		Status:     status,
		PlannedQty: planned,
		Notes:      input.Notes,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if job.TemplateID != nil {
			if _, err := tx.Template.FindByID(ctx, *job.TemplateID); err != nil {
				return changefeed.Change{}, lookup(err, ErrTemplateNotFound, "产品模板")
			}
		}
		if err := tx.Job.Create(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("创建工单失败: %w", err)
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "created"}, nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// JobProgress 打印进度
type JobProgress struct {
	DoneTasks        int `json:"done_tasks"`
	CountedTasks     int `json:"counted_tasks"` // 不含失败任务
	FailedTasks      int `json:"failed_tasks"`
	RemainingSeconds int `json:"remaining_seconds"`
	Percent          int `json:"percent"`
}

// Progress 完成任务数 / 非失败任务数
func Progress(tasks []entity.Task) JobProgress {
	var p JobProgress
	for i := range tasks {
		switch tasks[i].Status {
		case entity.TaskStatusDone:
			p.DoneTasks++
			p.CountedTasks++
		case entity.TaskStatusFailed:
			p.FailedTasks++
		default:
			p.CountedTasks++
			p.RemainingSeconds += tasks[i].DurationSeconds
		}
	}
	if p.CountedTasks > 0 {
		p.Percent = p.DoneTasks * 100 / p.CountedTasks
	}
	return p
}

// TaskCostLine 任务成本行（已舍入）
type TaskCostLine struct {
	TaskID string `json:"task_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	TaskCost
}

// JobCostView 工单成本
type JobCostView struct {
	Tasks   []TaskCostLine  `json:"tasks"`
	Total   decimal.Decimal `json:"total"`
	PerUnit decimal.Decimal `json:"per_unit"` // 按计划数量分摊
	Rates   CostRates       `json:"rates"`
}

func buildCostView(engine CostEngine, job *entity.Job) *JobCostView {
	view := &JobCostView{Tasks: make([]TaskCostLine, 0, len(job.Tasks)), Rates: engine.Rates}
	for i := range job.Tasks {
		t := &job.Tasks[i]
		view.Tasks = append(view.Tasks, TaskCostLine{
			TaskID:   t.ID,
			Name:     t.Name,
			Status:   t.Status,
			TaskCost: engine.TaskCost(t).Rounded(),
		})
	}
	full := engine.JobFullCost(job.Tasks)
	view.Total = Round2(full)
	if job.PlannedQty > 0 {
		view.PerUnit = Round2(full.Div(decimal.NewFromInt(int64(job.PlannedQty))))
	}
	return view
}

// Cost 工单成本明细
func (s *JobService) Cost(ctx context.Context, jobID string) (*JobCostView, error) {
	job, err := s.core.repos.Job.FindByID(ctx, jobID)
	if err != nil {
		return nil, lookup(err, ErrJobNotFound, "工单")
	}
	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return nil, err
	}
	return buildCostView(NewCostEngine(rates), job), nil
}

// JobDetail 工单详情
type JobDetail struct {
	*entity.Job
	Cost     *JobCostView   `json:"cost"`
	Progress JobProgress    `json:"progress"`
	Batches  []entity.Batch `json:"batches"`
	Lease    *LeaseView     `json:"lease"`
}

// Get 工单详情（含成本、进度、产出批次、租约）
func (s *JobService) Get(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := s.core.repos.Job.FindByID(ctx, jobID)
	if err != nil {
		return nil, lookup(err, ErrJobNotFound, "工单")
	}
	rates, err := s.settings.Rates(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.core.repos.Batch.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询库存批次失败: %w", err)
	}
	leases := &LeaseService{core: s.core}
	return &JobDetail{
		Job:      job,
		Cost:     buildCostView(NewCostEngine(rates), job),
		Progress: Progress(job.Tasks),
		Batches:  batches,
		Lease:    leases.view(RecordJob, job.ID, job.Lease),
	}, nil
}

// List 工单列表
func (s *JobService) List(ctx context.Context, params repository.JobListParams) ([]entity.Job, int64, error) {
	return s.core.repos.Job.List(ctx, params)
}

// syncFromTasks 按任务状态重新推导工单状态，QUOTE 和 DONE 不变
func (s *JobService) syncFromTasks(ctx context.Context, tx *repository.Repositories, job *entity.Job) error {
	if job.IsSticky() {
		return nil
	}
	statuses, err := tx.Job.TaskStatuses(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("查询任务状态失败: %w", err)
	}
	derived := entity.DeriveJobStatus(statuses)
	if derived == job.Status {
		return nil
	}
	if err := tx.Job.UpdateStatus(ctx, job.ID, derived); err != nil {
		return fmt.Errorf("更新工单状态失败: %w", err)
	}
	job.Status = derived
	return nil
}

func hasOpenTasks(statuses []string) bool {
	for _, st := range statuses {
		if st == entity.TaskStatusTodo || st == entity.TaskStatusPrinting {
			return true
		}
	}
	return false
}

// SetStatus 操作员显式修改工单状态
//   - QUOTE -> TODO 后立即按任务推导
//   - TODO -> QUOTE 要求没有正在打印的任务
//   - -> DONE 要求所有任务已结束
//
// PRINTING / PRINTED 只能由任务推导，DONE 只能通过 Reopen 离开。
func (s *JobService) SetStatus(ctx context.Context, actorID, jobID, status string) (*entity.Job, error) {
	switch status {
	case entity.JobStatusQuote, entity.JobStatusTodo, entity.JobStatusDone:
	case entity.JobStatusPrinting, entity.JobStatusPrinted:
		return nil, illegal("%s 状态由打印任务推导，不能手动设置", status)
	default:
		return nil, invalid("无效的工单状态: %s", status)
	}

	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		job, err := tx.Job.FindByIDForUpdate(ctx, jobID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
		}
		if err := s.core.guard(job.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if job.Status == status {
			return changefeed.Change{}, errUnchanged
		}
		if job.Status == entity.JobStatusDone {
			return changefeed.Change{}, illegal("已完工的工单需要先重新打开")
		}
		statuses, err := tx.Job.TaskStatuses(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询任务状态失败: %w", err)
		}

		switch status {
		case entity.JobStatusTodo:
			if job.Status != entity.JobStatusQuote {
				return changefeed.Change{}, illegal("只有报价中的工单可以转为待打印")
			}
			job.Status = entity.DeriveJobStatus(statuses)
		case entity.JobStatusQuote:
			for _, st := range statuses {
				if st == entity.TaskStatusPrinting {
					return changefeed.Change{}, illegal("工单有正在打印的任务，不能退回报价")
				}
			}
			job.Status = entity.JobStatusQuote
		case entity.JobStatusDone:
			if job.Status == entity.JobStatusQuote {
				return changefeed.Change{}, illegal("报价中的工单不能直接完工")
			}
			if hasOpenTasks(statuses) {
				return changefeed.Change{}, ErrTasksUnfinished
			}
			now := s.core.now()
			job.Status = entity.JobStatusDone
			job.CompletedAt = &now
		}
		job.UpdatedAt = s.core.now()
		if err := tx.Job.Update(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新工单失败: %w", err)
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "status_" + strings.ToLower(job.Status)}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Job.FindByID(ctx, jobID)
}

// Reopen 重新打开已完工工单：删除其产出的全部库存批次，产出数量清零
// 只要有一个批次已售出就拒绝。
func (s *JobService) Reopen(ctx context.Context, actorID, jobID string) (*entity.Job, error) {
	var removed int64
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		job, err := tx.Job.FindByIDForUpdate(ctx, jobID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
		}
		if err := s.core.guard(job.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if job.Status != entity.JobStatusDone {
			return changefeed.Change{}, illegal("只有已完工的工单可以重新打开")
		}
		sold, err := tx.Batch.CountSoldByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询已售批次失败: %w", err)
		}
		if sold > 0 {
			return changefeed.Change{}, withMessage(ErrBatchesSold, "工单已有 %d 个库存批次售出，不能重新打开", sold)
		}
		removed, err = tx.Batch.DeleteByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("删除库存批次失败: %w", err)
		}

		job.ProducedQty = 0
		job.CompletedAt = nil
		job.Status = entity.JobStatusTodo
		job.UpdatedAt = s.core.now()
		if err := tx.Job.Update(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新工单失败: %w", err)
		}
		if err := s.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "reopened"}, nil
	})
	if err != nil {
		return nil, err
	}
	s.core.logger.Info("job reopened",
		zap.String("job_id", jobID),
		zap.String("actor", actorID),
		zap.Int64("batches_removed", removed))
	return s.core.repos.Job.FindByID(ctx, jobID)
}

// reprintSuffix 重新打印生成的工单/任务名称后缀
const reprintSuffix = " (reprint)"

// Reprint 复制工单为新的待打印工单，复制所有未失败的任务及其计划用量
func (s *JobService) Reprint(ctx context.Context, actorID, jobID string) (*entity.Job, error) {
	source, err := s.core.repos.Job.FindByID(ctx, jobID)
	if err != nil {
		return nil, lookup(err, ErrJobNotFound, "工单")
	}

	now := s.core.now()
	job := &entity.Job{
		ID:         uuid.New().String(),
		TemplateID: source.TemplateID,
		Name:       source.Name + reprintSuffix,
		Priority:   source.Priority,
		Status:     entity.JobStatusTodo,
		PlannedQty: source.PlannedQty,
		Notes:      source.Notes,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if err := tx.Job.Create(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("创建工单失败: %w", err)
		}
		positions := newQueueCursor(tx)
		for i := range source.Tasks {
			src := &source.Tasks[i]
			if src.Status == entity.TaskStatusFailed {
				continue
			}
			task := copyTask(src, job.ID, src.Name, now)
			pos, err := positions.next(ctx, task.MachineID)
			if err != nil {
				return changefeed.Change{}, err
			}
			task.QueuePosition = pos
			if err := tx.Task.Create(ctx, task); err != nil {
				return changefeed.Change{}, fmt.Errorf("创建打印任务失败: %w", err)
			}
			if err := s.allocator.replaceUsages(ctx, tx, task.ID, plannedFrom(src.Usages), nil); err != nil {
				return changefeed.Change{}, err
			}
		}
		if err := s.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "created"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Job.FindByID(ctx, job.ID)
}
