package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TemplateUsageInput 模板文件用量（按耗材类型）
type TemplateUsageInput struct {
	MaterialTypeID string          `json:"material_type_id" binding:"required"`
	Grams          decimal.Decimal `json:"grams"`
}

// TemplateFileInput 模板打印文件
type TemplateFileInput struct {
	Name            string               `json:"name" binding:"required"`
	MachineID       *string              `json:"machine_id"`
	PlateID         *string              `json:"plate_id"`
	DurationSeconds int                  `json:"duration_seconds"`
	PerRunQty       int                  `json:"per_run_qty"`
	Usages          []TemplateUsageInput `json:"usages"`
}

// CreateTemplateInput 创建产品模板，SuggestedPrice 为空时按成本加成定价
type CreateTemplateInput struct {
	Name           string              `json:"name" binding:"required"`
	SuggestedPrice *decimal.Decimal    `json:"suggested_price"`
	Files          []TemplateFileInput `json:"files"`
}

// CreateTemplate 创建产品模板
func (s *JobService) CreateTemplate(ctx context.Context, input *CreateTemplateInput) (*entity.Template, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("模板名称不能为空")
	}
	now := s.core.now()
	t := &entity.Template{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.SuggestedPrice != nil {
		if input.SuggestedPrice.IsNegative() {
			return nil, invalid("建议售价不能为负数")
		}
		t.SuggestedPrice = decimal.NewNullDecimal(Round2(*input.SuggestedPrice))
	}

	for i, f := range input.Files {
		fileName := strings.TrimSpace(f.Name)
		if fileName == "" {
			return nil, invalid("打印文件名称不能为空")
		}
		if f.DurationSeconds < 0 {
			return nil, invalid("打印时长不能为负数")
		}
		perRun := f.PerRunQty
		if perRun == 0 {
			perRun = 1
		}
		if perRun < 0 {
			return nil, invalid("单次产出数量必须大于 0")
		}
		if err := checkPlacement(ctx, s.core.repos, f.MachineID, f.PlateID); err != nil {
			return nil, err
		}
		file := entity.TemplateFile{
			ID:              uuid.New().String(),
			TemplateID:      t.ID,
			Name:            fileName,
			MachineID:       f.MachineID,
			PlateID:         f.PlateID,
			DurationSeconds: f.DurationSeconds,
			PerRunQty:       perRun,
			SortOrder:       i,
			CreatedAt:       now,
		}
		for _, u := range f.Usages {
			if u.Grams.IsNegative() {
				return nil, invalid("用量不能为负数")
			}
			if _, err := s.core.repos.Material.FindTypeByID(ctx, u.MaterialTypeID); err != nil {
				return nil, lookup(err, ErrMaterialTypeNotFound, "耗材类型")
			}
			file.Usages = append(file.Usages, entity.TemplateUsage{
				ID:             uuid.New().String(),
				TemplateFileID: file.ID,
				MaterialTypeID: u.MaterialTypeID,
				Grams:          Round2(u.Grams),
			})
		}
		t.Files = append(t.Files, file)
	}

	if err := s.core.repos.Template.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("创建产品模板失败: %w", err)
	}
	return t, nil
}

// GetTemplate 模板详情
func (s *JobService) GetTemplate(ctx context.Context, id string) (*entity.Template, error) {
	t, err := s.core.repos.Template.FindByID(ctx, id)
	if err != nil {
		return nil, lookup(err, ErrTemplateNotFound, "产品模板")
	}
	return t, nil
}

// ListTemplates 产品模板列表
func (s *JobService) ListTemplates(ctx context.Context) ([]entity.Template, error) {
	return s.core.repos.Template.List(ctx)
}

// CreateFromTemplateInput 按模板建工单
type CreateFromTemplateInput struct {
	Quantity int    `json:"quantity"`
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

// CreateFromTemplate 按模板新建 TODO 工单：
// 每个打印文件展开成 ceil(数量 / 单次产出) 个任务，用量取该耗材类型最早采购的在用批次；
// 没有在用批次的耗材类型不写用量。
func (s *JobService) CreateFromTemplate(ctx context.Context, actorID, templateID string, input *CreateFromTemplateInput) (*entity.Job, error) {
	qty := input.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, invalid("计划数量必须大于 0")
	}
	priority := input.Priority
	if priority == "" {
		priority = entity.JobPriorityMedium
	}
	if !validPriority(priority) {
		return nil, invalid("无效的优先级: %s", input.Priority)
	}
	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = tpl.Name
	}

	now := s.core.now()
	job := &entity.Job{
		ID:         uuid.New().String(),
		TemplateID: &tpl.ID,
		Name:       name,
		Priority:   priority,
		Status:     entity.JobStatusTodo,
		PlannedQty: qty,
		Notes:      input.Notes,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var missing []string
	err = s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if err := tx.Job.Create(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("创建工单失败: %w", err)
		}
		lots := make(map[string]string)
		positions := newQueueCursor(tx)
		for i := range tpl.Files {
			f := &tpl.Files[i]
			if err := checkPlacement(ctx, tx, f.MachineID, f.PlateID); err != nil {
				return changefeed.Change{}, err
			}
			var planned []UsageInput
			for _, u := range f.Usages {
				lotID, ok := lots[u.MaterialTypeID]
				if !ok {
					lot, err := tx.Material.FirstActiveLot(ctx, u.MaterialTypeID)
					switch {
					case errors.Is(err, repository.ErrNotFound):
						missing = append(missing, u.MaterialTypeID)
					case err != nil:
						return changefeed.Change{}, fmt.Errorf("查询耗材批次失败: %w", err)
					default:
						lotID = lot.ID
					}
					lots[u.MaterialTypeID] = lotID
				}
				if lotID != "" {
					planned = append(planned, UsageInput{LotID: lotID, Grams: u.Grams})
				}
			}
			if planned, err = normalizeUsages(planned); err != nil {
				return changefeed.Change{}, err
			}

			runs := (qty + f.PerRunQty - 1) / f.PerRunQty
			for run := 1; run <= runs; run++ {
				taskName := f.Name
				if runs > 1 {
					taskName = fmt.Sprintf("%s (%d)", f.Name, run)
				}
				task := &entity.Task{
					ID:              uuid.New().String(),
					JobID:           job.ID,
					Name:            taskName,
					MachineID:       f.MachineID,
					PlateID:         f.PlateID,
					Status:          entity.TaskStatusTodo,
					DurationSeconds: f.DurationSeconds,
					PerRunQty:       f.PerRunQty,
					CreatedAt:       now,
					UpdatedAt:       now,
				}
				if task.QueuePosition, err = positions.next(ctx, task.MachineID); err != nil {
					return changefeed.Change{}, err
				}
				if err := tx.Task.Create(ctx, task); err != nil {
					return changefeed.Change{}, fmt.Errorf("创建打印任务失败: %w", err)
				}
				if err := s.allocator.replaceUsages(ctx, tx, task.ID, planned, nil); err != nil {
					return changefeed.Change{}, err
				}
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
	if len(missing) > 0 {
		s.core.logger.Warn("no active lot for template material",
			zap.String("job_id", job.ID),
			zap.Strings("material_type_ids", missing))
	}
	return s.core.repos.Job.FindByID(ctx, job.ID)
}
