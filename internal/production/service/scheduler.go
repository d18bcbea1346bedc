package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SchedulerService 打印队列与任务状态迁移
// 每台机器同一时刻最多一个 PRINTING 任务。
type SchedulerService struct {
	core      *core
	allocator *AllocatorService
	jobs      *JobService
}

// maxClones 单次复制任务数量上限
const maxClones = 50

// queueCursor 批量新建任务时为每台机器依次分配队尾位置
type queueCursor struct {
	tx   *repository.Repositories
	last map[string]int
}

func newQueueCursor(tx *repository.Repositories) *queueCursor {
	return &queueCursor{tx: tx, last: make(map[string]int)}
}

func (c *queueCursor) next(ctx context.Context, machineID *string) (int, error) {
	if machineID == nil {
		return 0, nil
	}
	last, ok := c.last[*machineID]
	if !ok {
		var err error
		last, err = c.tx.Task.MaxQueuePosition(ctx, *machineID)
		if err != nil {
			return 0, fmt.Errorf("查询队列位置失败: %w", err)
		}
	}
	c.last[*machineID] = last + 1
	return last + 1, nil
}

// copyTask 以 src 为模板生成新的 TODO 任务（不含用量）
func copyTask(src *entity.Task, jobID, name string, now time.Time) *entity.Task {
	return &entity.Task{
		ID:              uuid.New().String(),
		JobID:           jobID,
		Name:            name,
		MachineID:       src.MachineID,
		PlateID:         src.PlateID,
		Status:          entity.TaskStatusTodo,
		DurationSeconds: src.DurationSeconds,
		PerRunQty:       src.PerRunQty,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// loadEditable 事务内锁定任务和所属工单，检查租约；已完工工单的任务不可修改
func (s *SchedulerService) loadEditable(ctx context.Context, tx *repository.Repositories, actorID, taskID string) (*entity.Task, *entity.Job, error) {
	task, err := tx.Task.FindByIDForUpdate(ctx, taskID)
	if err != nil {
		return nil, nil, lookup(err, ErrTaskNotFound, "打印任务")
	}
	job, err := s.lockJob(ctx, tx, actorID, task.JobID)
	if err != nil {
		return nil, nil, err
	}
	return task, job, nil
}

func (s *SchedulerService) lockJob(ctx context.Context, tx *repository.Repositories, actorID, jobID string) (*entity.Job, error) {
	job, err := tx.Job.FindByIDForUpdate(ctx, jobID)
	if err != nil {
		return nil, lookup(err, ErrJobNotFound, "工单")
	}
	if err := s.core.guard(job.Lease, actorID); err != nil {
		return nil, err
	}
	if job.Status == entity.JobStatusDone {
		return nil, illegal("工单已完工，不能修改打印任务")
	}
	return job, nil
}

// checkPlacement 校验机器和平台引用
func checkPlacement(ctx context.Context, tx *repository.Repositories, machineID, plateID *string) error {
	if machineID == nil {
		if plateID != nil {
			return invalid("未分配打印机的任务不能指定平台")
		}
		return nil
	}
	if _, err := tx.Machine.FindByID(ctx, *machineID); err != nil {
		return lookup(err, ErrMachineNotFound, "打印机")
	}
	if plateID != nil {
		ok, err := tx.Machine.PlateBelongsTo(ctx, *plateID, *machineID)
		if err != nil {
			return fmt.Errorf("查询打印平台失败: %w", err)
		}
		if !ok {
			return invalid("平台不属于该打印机")
		}
	}
	return nil
}

// CreateTaskInput 新建打印任务
type CreateTaskInput struct {
	JobID           string       `json:"job_id" binding:"required"`
	Name            string       `json:"name" binding:"required"`
	MachineID       *string      `json:"machine_id"`
	PlateID         *string      `json:"plate_id"`
	DurationSeconds int          `json:"duration_seconds"`
	PerRunQty       int          `json:"per_run_qty"`
	Usages          []UsageInput `json:"usages"`
}

// CreateTask 新建任务并写入计划用量，任务排到所在机器队尾
func (s *SchedulerService) CreateTask(ctx context.Context, actorID string, input *CreateTaskInput) (*entity.Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("任务名称不能为空")
	}
	if input.DurationSeconds < 0 {
		return nil, invalid("打印时长不能为负数")
	}
	perRun := input.PerRunQty
	if perRun == 0 {
		perRun = 1
	}
	if perRun < 0 {
		return nil, invalid("单次产出数量必须大于 0")
	}
	planned, err := normalizeUsages(input.Usages)
	if err != nil {
		return nil, err
	}

	now := s.core.now()
	task := &entity.Task{
		ID:              uuid.New().String(),
		JobID:           input.JobID,
		Name:            name,
		MachineID:       input.MachineID,
		PlateID:         input.PlateID,
		Status:          entity.TaskStatusTodo,
		DurationSeconds: input.DurationSeconds,
		PerRunQty:       perRun,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		job, err := s.lockJob(ctx, tx, actorID, input.JobID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if err := checkPlacement(ctx, tx, task.MachineID, task.PlateID); err != nil {
			return changefeed.Change{}, err
		}
		pos, err := newQueueCursor(tx).next(ctx, task.MachineID)
		if err != nil {
			return changefeed.Change{}, err
		}
		task.QueuePosition = pos
		if err := tx.Task.Create(ctx, task); err != nil {
			return changefeed.Change{}, fmt.Errorf("创建打印任务失败: %w", err)
		}
		if err := s.allocator.replaceUsages(ctx, tx, task.ID, planned, nil); err != nil {
			return changefeed.Change{}, err
		}
		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "created"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Task.FindByID(ctx, task.ID)
}

// Reorder 把任务按给定顺序排到机器队列：分配机器，位置即列表下标
// 重复提交相同顺序不产生任何写入；任一任务所属工单被他人锁定时整体拒绝。
func (s *SchedulerService) Reorder(ctx context.Context, actorID, machineID string, taskIDs []string) error {
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if id == "" {
			return invalid("任务ID不能为空")
		}
		if seen[id] {
			return invalid("任务重复: %s", id)
		}
		seen[id] = true
	}

	return s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if _, err := tx.Machine.FindByID(ctx, machineID); err != nil {
			return changefeed.Change{}, lookup(err, ErrMachineNotFound, "打印机")
		}
		tasks, err := tx.Task.FindByIDs(ctx, taskIDs)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询打印任务失败: %w", err)
		}
		byID := make(map[string]*entity.Task, len(tasks))
		for i := range tasks {
			byID[tasks[i].ID] = &tasks[i]
		}

		guarded := make(map[string]bool)
		for i := range tasks {
			jobID := tasks[i].JobID
			if guarded[jobID] {
				continue
			}
			guarded[jobID] = true
			job, err := tx.Job.FindByIDForUpdate(ctx, jobID)
			if err != nil {
				return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
			}
			if err := s.core.guard(job.Lease, actorID); err != nil {
				return changefeed.Change{}, err
			}
		}

		changed := false
		for pos, id := range taskIDs {
			t, ok := byID[id]
			if !ok {
				return changefeed.Change{}, withMessage(ErrTaskNotFound, "打印任务不存在: %s", id)
			}
			if t.Consumed() {
				return changefeed.Change{}, illegal("任务 %s 已结束，不能排队", t.Name)
			}
			sameMachine := t.MachineID != nil && *t.MachineID == machineID
			if t.Status == entity.TaskStatusPrinting && !sameMachine {
				return changefeed.Change{}, illegal("任务 %s 正在打印，不能移到其他打印机", t.Name)
			}
			if sameMachine && t.QueuePosition == pos {
				continue
			}
			if err := tx.Task.UpdateQueuePosition(ctx, id, machineID, pos, !sameMachine); err != nil {
				return changefeed.Change{}, fmt.Errorf("更新队列位置失败: %w", err)
			}
			changed = true
		}
		if !changed {
			return changefeed.Change{}, errUnchanged
		}
		return changefeed.Change{Kind: changefeed.KindMachine, RecordID: machineID, Action: "queue_reordered"}, nil
	})
}

// SetTaskStatusInput 修改任务状态
// ActualQty 只用于 DONE（缺省为单次产出数量）；WastedGrams 只用于 FAILED。
type SetTaskStatusInput struct {
	Status      string           `json:"status" binding:"required"`
	ActualQty   *int             `json:"actual_qty"`
	WastedGrams *decimal.Decimal `json:"wasted_grams"`
}

// SetTaskStatus 任务状态迁移，同一事务内完成机器互斥和工单状态推导
func (s *SchedulerService) SetTaskStatus(ctx context.Context, actorID, taskID string, input *SetTaskStatusInput) (*entity.Task, error) {
	if !entity.ValidTaskStatus(input.Status) {
		return nil, invalid("无效的任务状态: %s", input.Status)
	}
	if input.ActualQty != nil {
		if input.Status != entity.TaskStatusDone {
			return nil, invalid("只有完成的任务才能填写实际产出")
		}
		if *input.ActualQty < 0 {
			return nil, invalid("实际产出不能为负数")
		}
	}
	if input.WastedGrams != nil {
		if input.Status != entity.TaskStatusFailed {
			return nil, invalid("只有失败的任务才能登记浪费克数")
		}
		if input.WastedGrams.IsNegative() {
			return nil, invalid("浪费克数不能为负数")
		}
	}

	var displacedJobs []string
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		task, job, err := s.loadEditable(ctx, tx, actorID, taskID)
		if err != nil {
			return changefeed.Change{}, err
		}
		previous := task.Status
		now := s.core.now()

		switch input.Status {
		case entity.TaskStatusPrinting:
			if job.Status == entity.JobStatusQuote {
				return changefeed.Change{}, illegal("报价中的工单不能开始打印")
			}
			if task.MachineID == nil {
				return changefeed.Change{}, invalid("任务未分配打印机")
			}
			displacedJobs, err = tx.Task.DemotePrinting(ctx, *task.MachineID, task.ID, now)
			if err != nil {
				return changefeed.Change{}, fmt.Errorf("释放打印机失败: %w", err)
			}
			if previous != entity.TaskStatusPrinting {
				task.StartedAt = &now
			}
			task.FinishedAt = nil
			task.ActualQty = 0
		case entity.TaskStatusDone:
			task.ActualQty = task.PerRunQty
			if input.ActualQty != nil {
				task.ActualQty = *input.ActualQty
			}
			task.FinishedAt = &now
		case entity.TaskStatusFailed:
			task.ActualQty = 0
			task.FinishedAt = &now
		case entity.TaskStatusTodo:
			task.ActualQty = 0
			task.StartedAt = nil
			task.FinishedAt = nil
		}
		task.Status = input.Status
		task.UpdatedAt = now
		if err := tx.Task.Update(ctx, task); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新打印任务失败: %w", err)
		}

		// 失败时按浪费克数重新分摊；离开失败状态时恢复计划用量
		switch {
		case input.WastedGrams != nil:
			if err := s.recommit(ctx, tx, task.ID, input.WastedGrams); err != nil {
				return changefeed.Change{}, err
			}
		case previous == entity.TaskStatusFailed && input.Status != entity.TaskStatusFailed:
			if err := s.recommit(ctx, tx, task.ID, nil); err != nil {
				return changefeed.Change{}, err
			}
		}

		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		// 被挤下打印机的任务可能属于其他工单，同样重新推导
		if err := s.syncJobs(ctx, tx, job.ID, displacedJobs); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "status_" + strings.ToLower(task.Status)}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(displacedJobs) > 0 {
		s.core.logger.Info("printing task displaced",
			zap.String("task_id", taskID),
			zap.Strings("job_ids", displacedJobs))
	}
	return s.core.repos.Task.FindByID(ctx, taskID)
}

// syncJobs 锁定并重新推导 skip 以外的工单
func (s *SchedulerService) syncJobs(ctx context.Context, tx *repository.Repositories, skip string, jobIDs []string) error {
	for _, id := range jobIDs {
		if id == skip {
			continue
		}
		other, err := tx.Job.FindByIDForUpdate(ctx, id)
		if err != nil {
			return lookup(err, ErrJobNotFound, "工单")
		}
		if err := s.jobs.syncFromTasks(ctx, tx, other); err != nil {
			return err
		}
	}
	return nil
}

// recommit 用已保存的计划用量重新计入
func (s *SchedulerService) recommit(ctx context.Context, tx *repository.Repositories, taskID string, wasted *decimal.Decimal) error {
	usages, err := tx.Task.ListUsages(ctx, taskID)
	if err != nil {
		return fmt.Errorf("查询耗材用量失败: %w", err)
	}
	if len(usages) == 0 {
		return nil
	}
	return s.allocator.replaceUsages(ctx, tx, taskID, plannedFrom(usages), wasted)
}

var copyNamePattern = regexp.MustCompile(`^(.*) \((\d+)\)$`)

// splitCopyName "Vaso (3)" -> ("Vaso", 3)；没有序号时返回 0
func splitCopyName(name string) (string, int) {
	m := copyNamePattern.FindStringSubmatch(name)
	if m == nil {
		return name, 0
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return name, 0
	}
	return m[1], n
}

// nextCopyNumber 同名任务中已用的最大序号 + 1
func nextCopyNumber(base string, names []string) int {
	highest := 0
	for _, name := range names {
		b, n := splitCopyName(name)
		if b == base && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// CloneTask 复制任务 count 次，名称追加递增序号，复制机器、平台、时长和计划用量
func (s *SchedulerService) CloneTask(ctx context.Context, actorID, taskID string, count int) ([]entity.Task, error) {
	if count == 0 {
		count = 1
	}
	if count < 0 || count > maxClones {
		return nil, invalid("复制数量必须在 1 到 %d 之间", maxClones)
	}

	var ids []string
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		src, job, err := s.loadEditable(ctx, tx, actorID, taskID)
		if err != nil {
			return changefeed.Change{}, err
		}
		usages, err := tx.Task.ListUsages(ctx, src.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询耗材用量失败: %w", err)
		}
		names, err := tx.Task.ListNamesByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询任务名称失败: %w", err)
		}
		base, _ := splitCopyName(src.Name)
		start := nextCopyNumber(base, names)
		positions := newQueueCursor(tx)
		now := s.core.now()
		for i := 0; i < count; i++ {
			task := copyTask(src, job.ID, fmt.Sprintf("%s (%d)", base, start+i), now)
			if task.QueuePosition, err = positions.next(ctx, task.MachineID); err != nil {
				return changefeed.Change{}, err
			}
			if err := tx.Task.Create(ctx, task); err != nil {
				return changefeed.Change{}, fmt.Errorf("复制打印任务失败: %w", err)
			}
			if err := s.allocator.replaceUsages(ctx, tx, task.ID, plannedFrom(usages), nil); err != nil {
				return changefeed.Change{}, err
			}
			ids = append(ids, task.ID)
		}
		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "tasks_cloned"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.findTasks(ctx, ids)
}

// RequeueTask 失败任务重新排队：新建一个 TODO 任务，用量为给定用量或原计划用量
func (s *SchedulerService) RequeueTask(ctx context.Context, actorID, taskID string, usages []UsageInput) (*entity.Task, error) {
	var override []UsageInput
	if usages != nil {
		var err error
		if override, err = normalizeUsages(usages); err != nil {
			return nil, err
		}
	}

	var newID string
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		src, job, err := s.loadEditable(ctx, tx, actorID, taskID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if src.Status != entity.TaskStatusFailed {
			return changefeed.Change{}, illegal("只有失败的任务可以重新排队")
		}
		planned := override
		if planned == nil {
			existing, err := tx.Task.ListUsages(ctx, src.ID)
			if err != nil {
				return changefeed.Change{}, fmt.Errorf("查询耗材用量失败: %w", err)
			}
			planned = plannedFrom(existing)
		}
		task := copyTask(src, job.ID, src.Name+reprintSuffix, s.core.now())
		if task.QueuePosition, err = newQueueCursor(tx).next(ctx, task.MachineID); err != nil {
			return changefeed.Change{}, err
		}
		if err := tx.Task.Create(ctx, task); err != nil {
			return changefeed.Change{}, fmt.Errorf("创建打印任务失败: %w", err)
		}
		if err := s.allocator.replaceUsages(ctx, tx, task.ID, planned, nil); err != nil {
			return changefeed.Change{}, err
		}
		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		newID = task.ID
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "requeued"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Task.FindByID(ctx, newID)
}

// UpdateTaskInput 编辑打印任务，提交完整的可编辑字段；Usages 整体替换计划用量
type UpdateTaskInput struct {
	Name            string       `json:"name" binding:"required"`
	MachineID       *string      `json:"machine_id"`
	PlateID         *string      `json:"plate_id"`
	DurationSeconds int          `json:"duration_seconds"`
	PerRunQty       int          `json:"per_run_qty"`
	Usages          []UsageInput `json:"usages"`
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// UpdateTask 编辑任务属性并整体替换用量，同一事务内重新推导工单状态
// 换机器的 TODO 任务排到新机器队尾；打印中的任务不能换机器。
func (s *SchedulerService) UpdateTask(ctx context.Context, actorID, taskID string, input *UpdateTaskInput) (*entity.Task, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("任务名称不能为空")
	}
	if input.DurationSeconds < 0 {
		return nil, invalid("打印时长不能为负数")
	}
	if input.PerRunQty <= 0 {
		return nil, invalid("单次产出数量必须大于 0")
	}
	planned, err := normalizeUsages(input.Usages)
	if err != nil {
		return nil, err
	}

	err = s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		task, job, err := s.loadEditable(ctx, tx, actorID, taskID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if err := checkPlacement(ctx, tx, input.MachineID, input.PlateID); err != nil {
			return changefeed.Change{}, err
		}
		if !sameRef(task.MachineID, input.MachineID) {
			if task.Status == entity.TaskStatusPrinting {
				return changefeed.Change{}, illegal("任务 %s 正在打印，不能更换打印机", task.Name)
			}
			pos, err := newQueueCursor(tx).next(ctx, input.MachineID)
			if err != nil {
				return changefeed.Change{}, err
			}
			task.QueuePosition = pos
		}

		task.Name = name
		task.MachineID = input.MachineID
		task.PlateID = input.PlateID
		task.DurationSeconds = input.DurationSeconds
		task.PerRunQty = input.PerRunQty
		task.UpdatedAt = s.core.now()
		if err := tx.Task.Update(ctx, task); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新打印任务失败: %w", err)
		}
		// 失败任务保留已登记的浪费总量，按新的计划比例重新分摊
		var wasted *decimal.Decimal
		if task.Status == entity.TaskStatusFailed {
			existing, err := tx.Task.ListUsages(ctx, task.ID)
			if err != nil {
				return changefeed.Change{}, fmt.Errorf("查询耗材用量失败: %w", err)
			}
			total := decimal.Zero
			for _, u := range existing {
				total = total.Add(u.Grams)
			}
			wasted = &total
		}
		if err := s.allocator.replaceUsages(ctx, tx, task.ID, planned, wasted); err != nil {
			return changefeed.Change{}, err
		}
		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "updated"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Task.FindByID(ctx, taskID)
}

// DeleteTask 删除任务及其用量，耗材余量随之恢复
func (s *SchedulerService) DeleteTask(ctx context.Context, actorID, taskID string) error {
	return s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		task, job, err := s.loadEditable(ctx, tx, actorID, taskID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if err := tx.Task.Delete(ctx, task.ID); err != nil {
			return changefeed.Change{}, fmt.Errorf("删除打印任务失败: %w", err)
		}
		if err := s.jobs.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "deleted"}, nil
	})
}

func (s *SchedulerService) findTasks(ctx context.Context, ids []string) ([]entity.Task, error) {
	tasks := make([]entity.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.core.repos.Task.FindByID(ctx, id)
		if err != nil {
			return nil, lookup(err, ErrTaskNotFound, "打印任务")
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// MachineQueue 单台机器的队列
type MachineQueue struct {
	Machine       entity.Machine `json:"machine"`
	Printing      *entity.Task   `json:"printing"`
	Todo          []entity.Task  `json:"todo"`
	QueuedSeconds int            `json:"queued_seconds"` // 排队中 TODO 任务的时长合计
}

// QueueView 打印队列
type QueueView struct {
	Machines   []MachineQueue `json:"machines"`
	Unassigned []entity.Task  `json:"unassigned"`
}

// BuildQueue 按机器分组：至多一个 PRINTING，TODO 按队列位置排序
func BuildQueue(machines []entity.Machine, tasks []entity.Task) *QueueView {
	view := &QueueView{
		Machines:   make([]MachineQueue, len(machines)),
		Unassigned: []entity.Task{},
	}
	index := make(map[string]int, len(machines))
	for i := range machines {
		view.Machines[i] = MachineQueue{Machine: machines[i], Todo: []entity.Task{}}
		index[machines[i].ID] = i
	}
	for i := range tasks {
		t := tasks[i]
		if t.MachineID == nil {
			view.Unassigned = append(view.Unassigned, t)
			continue
		}
		mi, ok := index[*t.MachineID]
		if !ok {
			view.Unassigned = append(view.Unassigned, t)
			continue
		}
		q := &view.Machines[mi]
		if t.Status == entity.TaskStatusPrinting && q.Printing == nil {
			q.Printing = &t
			continue
		}
		q.Todo = append(q.Todo, t)
		q.QueuedSeconds += t.DurationSeconds
	}
	for i := range view.Machines {
		todo := view.Machines[i].Todo
		sort.SliceStable(todo, func(a, b int) bool {
			return todo[a].QueuePosition < todo[b].QueuePosition
		})
	}
	return view
}

// Queue 当前打印队列（只含 TODO/PRINTING 工单中的未结束任务）
func (s *SchedulerService) Queue(ctx context.Context) (*QueueView, error) {
	machines, err := s.core.repos.Machine.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询打印机失败: %w", err)
	}
	tasks, err := s.core.repos.Task.ListQueued(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询打印队列失败: %w", err)
	}
	return BuildQueue(machines, tasks), nil
}
