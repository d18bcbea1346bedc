package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// OutputRequest 一种产出
type OutputRequest struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity" binding:"required"`
}

// CompleteJobInput 完工入库
type CompleteJobInput struct {
	Outputs   []OutputRequest `json:"outputs" binding:"required"`
	LaborCost decimal.Decimal `json:"labor_cost"`
}

// CompletionResult 完工结果
type CompletionResult struct {
	Job     *entity.Job    `json:"job"`
	Batches []entity.Batch `json:"batches"`
}

// NormalizeOutputName 产出名称规范化：去首尾空白、合并连续空白、NFC
// 同一工单下规范化后相同的名称归入同一个后处理批次。
func NormalizeOutputName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// SequencePeriod 对外编号的期间前缀（两位年份）
func SequencePeriod(year int) string {
	return fmt.Sprintf("%02d", year%100)
}

// SuggestedPrice 模板有固定售价时用模板价，否则单件成本 × 加价系数
func SuggestedPrice(template *entity.Template, unitCost decimal.Decimal, markup decimal.Decimal) decimal.Decimal {
	if template != nil && template.SuggestedPrice.Valid {
		return Round2(template.SuggestedPrice.Decimal)
	}
	return Round2(unitCost.Mul(markup))
}

// Complete 完工入库（单个事务）：
//  1. 没有对外编号时分配当期下一个编号
//  2. 单件成本 = 工单全部成本 / 计划数量；单件人工 = 人工合计 / 本次产出数量合计
//  3. 每种产出按 (工单, 名称) 找到或新建后处理批次，累加数量和成本，重算建议售价
//  4. 产出数量 = 工单全部批次数量之和，达到计划数量则工单完工，否则按任务重新推导
//
// 可以分多次部分入库；累计数量不能超过计划数量。
func (s *JobService) Complete(ctx context.Context, actorID, jobID string, input *CompleteJobInput) (*CompletionResult, error) {
	if len(input.Outputs) == 0 {
		return nil, invalid("至少需要一种产出")
	}
	if input.LaborCost.IsNegative() {
		return nil, invalid("人工成本不能为负数")
	}
	outputs := make([]OutputRequest, len(input.Outputs))
	requested := 0
	for i, o := range input.Outputs {
		name := NormalizeOutputName(o.Name)
		if name == "" {
			return nil, invalid("产出名称不能为空")
		}
		if o.Quantity <= 0 {
			return nil, invalid("产出数量必须大于 0")
		}
		outputs[i] = OutputRequest{Name: name, Quantity: o.Quantity}
		requested += o.Quantity
	}

	markup := decimal.NewFromFloat(s.core.cfg.MarkupFactor)
	var result CompletionResult
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		locked, err := tx.Job.FindByIDForUpdate(ctx, jobID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
		}
		if err := s.core.guard(locked.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		switch locked.Status {
		case entity.JobStatusQuote:
			return changefeed.Change{}, illegal("报价中的工单不能入库")
		case entity.JobStatusDone:
			return changefeed.Change{}, illegal("工单已完工")
		}
		job, err := tx.Job.FindByID(ctx, jobID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
		}

		produced, err := tx.Batch.SumQuantityByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("统计产出数量失败: %w", err)
		}
		if produced+requested > job.PlannedQty {
			return changefeed.Change{}, withMessage(ErrOverProduction,
				"产出数量超过计划：已入库 %d，本次 %d，计划 %d", produced, requested, job.PlannedQty)
		}

		now := s.core.now()
		if job.SequenceCode == nil {
			code, err := tx.Job.NextSequenceCode(ctx, SequencePeriod(now.Year()))
			if err != nil {
				return changefeed.Change{}, fmt.Errorf("生成工单编号失败: %w", err)
			}
			job.SequenceCode = &code
		}

		rates, err := s.settings.ratesFrom(ctx, tx)
		if err != nil {
			return changefeed.Change{}, err
		}
		full := NewCostEngine(rates).JobFullCost(job.Tasks)
		costPerUnit := decimal.Zero
		if job.PlannedQty > 0 {
			costPerUnit = full.Div(decimal.NewFromInt(int64(job.PlannedQty)))
		}
		laborPerUnit := input.LaborCost.Div(decimal.NewFromInt(int64(requested)))

		for _, o := range outputs {
			if err := s.distribute(ctx, tx, job, o, costPerUnit, laborPerUnit, markup, now); err != nil {
				return changefeed.Change{}, err
			}
		}

		total, err := tx.Batch.SumQuantityByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("统计产出数量失败: %w", err)
		}
		job.ProducedQty = total
		job.UpdatedAt = now
		if total >= job.PlannedQty {
			statuses, err := tx.Job.TaskStatuses(ctx, job.ID)
			if err != nil {
				return changefeed.Change{}, fmt.Errorf("查询任务状态失败: %w", err)
			}
			if hasOpenTasks(statuses) {
				return changefeed.Change{}, withMessage(ErrTasksUnfinished, "仍有未完成的打印任务，工单不能完工")
			}
			job.Status = entity.JobStatusDone
			job.CompletedAt = &now
		} else if err := s.syncFromTasks(ctx, tx, job); err != nil {
			return changefeed.Change{}, err
		}
		if err := tx.Job.Update(ctx, job); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新工单失败: %w", err)
		}

		result.Batches, err = tx.Batch.ListByJob(ctx, job.ID)
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("查询库存批次失败: %w", err)
		}
		return changefeed.Change{Kind: changefeed.KindJob, RecordID: job.ID, Action: "completed"}, nil
	})
	if err != nil {
		return nil, err
	}

	result.Job, err = s.core.repos.Job.FindByID(ctx, jobID)
	if err != nil {
		return nil, lookup(err, ErrJobNotFound, "工单")
	}
	s.core.logger.Info("job outputs distributed",
		zap.String("job_id", jobID),
		zap.String("actor", actorID),
		zap.Int("requested", requested),
		zap.Int("produced", result.Job.ProducedQty),
		zap.String("status", result.Job.Status))
	return &result, nil
}

// distribute 把一种产出计入 (工单, 名称) 的后处理批次
func (s *JobService) distribute(ctx context.Context, tx *repository.Repositories, job *entity.Job, o OutputRequest, costPerUnit, laborPerUnit, markup decimal.Decimal, now time.Time) error {
	batch, err := tx.Batch.FindPostProd(ctx, job.ID, o.Name)
	isNew := errors.Is(err, repository.ErrNotFound)
	if err != nil && !isNew {
		return fmt.Errorf("查询库存批次失败: %w", err)
	}
	if isNew {
		jobID := job.ID
		batch = &entity.Batch{
			ID:           uuid.New().String(),
			JobID:        &jobID,
			SequenceCode: job.SequenceCode,
			Name:         o.Name,
			Status:       entity.BatchStatusPostProd,
			CreatedAt:    now,
		}
	}

	qty := decimal.NewFromInt(int64(o.Quantity))
	batch.Quantity += o.Quantity
	batch.SequenceCode = job.SequenceCode
	batch.MaterialCost = Round2(batch.MaterialCost.Add(costPerUnit.Mul(qty)))
	batch.LaborCost = Round2(batch.LaborCost.Add(laborPerUnit.Mul(qty)))
	batch.SuggestedPrice = SuggestedPrice(job.Template, batch.UnitCost(), markup)
	batch.UpdatedAt = now

	if isNew {
		err = tx.Batch.Create(ctx, batch)
	} else {
		err = tx.Batch.Update(ctx, batch)
	}
	if err != nil {
		return fmt.Errorf("保存库存批次失败: %w", err)
	}
	return nil
}
