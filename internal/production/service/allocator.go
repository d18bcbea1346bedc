package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocatorService 耗材用量分配与耗材批次台账
type AllocatorService struct {
	core *core
}

// UsageInput 任务计划用量
type UsageInput struct {
	LotID string          `json:"lot_id" binding:"required"`
	Grams decimal.Decimal `json:"grams"`
}

// CommitUsageInput 提交任务用量
// WastedGrams 只在任务失败时有意义：按计划用量比例分摊浪费的克数。
type CommitUsageInput struct {
	Usages      []UsageInput     `json:"usages"`
	WastedGrams *decimal.Decimal `json:"wasted_grams"`
}

// normalizeUsages 校验并合并同一批次的重复行，保持首次出现的顺序
func normalizeUsages(usages []UsageInput) ([]UsageInput, error) {
	merged := make([]UsageInput, 0, len(usages))
	index := make(map[string]int, len(usages))
	for _, u := range usages {
		lotID := strings.TrimSpace(u.LotID)
		if lotID == "" {
			return nil, invalid("耗材批次不能为空")
		}
		if u.Grams.IsNegative() {
			return nil, invalid("用量不能为负数")
		}
		if i, ok := index[lotID]; ok {
			merged[i].Grams = merged[i].Grams.Add(u.Grams)
			continue
		}
		index[lotID] = len(merged)
		merged = append(merged, UsageInput{LotID: lotID, Grams: u.Grams})
	}
	return merged, nil
}

// WasteRatio min(浪费克数, 计划总克数) / 计划总克数；计划总量为 0 时返回 false
func WasteRatio(totalPlanned, wasted decimal.Decimal) (decimal.Decimal, bool) {
	if !totalPlanned.IsPositive() {
		return decimal.Zero, false
	}
	return decimal.Min(wasted, totalPlanned).Div(totalPlanned), true
}

// DistributeWaste 把一次失败的总浪费量按计划比例分摊到每个批次
// wasted 为 nil 或计划总量为 0 时原样返回计划用量。
func DistributeWaste(planned []decimal.Decimal, wasted *decimal.Decimal) []decimal.Decimal {
	committed := make([]decimal.Decimal, len(planned))
	copy(committed, planned)
	if wasted == nil {
		return committed
	}
	total := decimal.Zero
	for _, g := range planned {
		total = total.Add(g)
	}
	ratio, ok := WasteRatio(total, *wasted)
	if !ok {
		return committed
	}
	for i, g := range planned {
		committed[i] = g.Mul(ratio)
	}
	return committed
}

// buildUsages 生成用量行，计划克数和实际计入克数都保存
func buildUsages(taskID string, planned []UsageInput, wasted *decimal.Decimal, now time.Time) []entity.MaterialUsage {
	grams := make([]decimal.Decimal, len(planned))
	for i, u := range planned {
		grams[i] = u.Grams
	}
	committed := DistributeWaste(grams, wasted)
	usages := make([]entity.MaterialUsage, len(planned))
	for i, u := range planned {
		usages[i] = entity.MaterialUsage{
			ID:           uuid.New().String(),
			TaskID:       taskID,
			LotID:        u.LotID,
			PlannedGrams: Round2(u.Grams),
			Grams:        Round2(committed[i]),
			CreatedAt:    now,
		}
	}
	return usages
}

// plannedFrom 从已保存的用量恢复计划
func plannedFrom(usages []entity.MaterialUsage) []UsageInput {
	planned := make([]UsageInput, len(usages))
	for i, u := range usages {
		planned[i] = UsageInput{LotID: u.LotID, Grams: u.PlannedGrams}
	}
	return planned
}

// replaceUsages 在事务内整体替换任务用量，引用的批次必须存在
func (s *AllocatorService) replaceUsages(ctx context.Context, tx *repository.Repositories, taskID string, planned []UsageInput, wasted *decimal.Decimal) error {
	ids := make([]string, len(planned))
	for i, u := range planned {
		ids[i] = u.LotID
	}
	lots, err := tx.Material.FindLotsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("查询耗材批次失败: %w", err)
	}
	for _, id := range ids {
		if _, ok := lots[id]; !ok {
			return withMessage(ErrLotNotFound, "耗材批次不存在: %s", id)
		}
	}
	if err := tx.Task.ReplaceUsages(ctx, taskID, buildUsages(taskID, planned, wasted, s.core.now())); err != nil {
		return fmt.Errorf("保存耗材用量失败: %w", err)
	}
	return nil
}

// CommitUsage 整体替换任务的耗材用量（调用方每次都要提交完整的计划用量）
func (s *AllocatorService) CommitUsage(ctx context.Context, actorID, taskID string, input *CommitUsageInput) (*entity.Task, error) {
	planned, err := normalizeUsages(input.Usages)
	if err != nil {
		return nil, err
	}
	if input.WastedGrams != nil && input.WastedGrams.IsNegative() {
		return nil, invalid("浪费克数不能为负数")
	}

	err = s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		task, err := tx.Task.FindByIDForUpdate(ctx, taskID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrTaskNotFound, "打印任务")
		}
		job, err := tx.Job.FindByIDForUpdate(ctx, task.JobID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrJobNotFound, "工单")
		}
		if err := s.core.guard(job.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if job.Status == entity.JobStatusDone {
			return changefeed.Change{}, illegal("工单已完工，不能修改耗材用量")
		}
		if input.WastedGrams != nil && task.Status != entity.TaskStatusFailed {
			return changefeed.Change{}, invalid("只有失败的任务才能登记浪费克数")
		}
		if err := s.replaceUsages(ctx, tx, task.ID, planned, input.WastedGrams); err != nil {
			return changefeed.Change{}, err
		}
		return changefeed.Change{Kind: changefeed.KindTask, RecordID: task.ID, Action: "usage_committed"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.core.repos.Task.FindByID(ctx, taskID)
}

// LotView 耗材批次及剩余量
type LotView struct {
	entity.Lot
	ConsumedGrams  decimal.Decimal `json:"consumed_grams"`
	RemainingGrams decimal.Decimal `json:"remaining_grams"`
}

// Remaining 剩余量 = 初始量 + 手工调整 - 已计入用量
func Remaining(lot *entity.Lot, consumed decimal.Decimal) decimal.Decimal {
	return lot.InitialGrams.Add(lot.AdjustmentGrams).Sub(consumed)
}

func (s *AllocatorService) lotViews(ctx context.Context, lots []entity.Lot) ([]LotView, error) {
	ids := make([]string, len(lots))
	for i := range lots {
		ids[i] = lots[i].ID
	}
	consumed, err := s.core.repos.Material.ConsumedGrams(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("统计耗材用量失败: %w", err)
	}
	views := make([]LotView, len(lots))
	for i := range lots {
		used := consumed[lots[i].ID]
		views[i] = LotView{
			Lot:            lots[i],
			ConsumedGrams:  used,
			RemainingGrams: Remaining(&lots[i], used),
		}
	}
	return views, nil
}

// GetLot 耗材批次详情
func (s *AllocatorService) GetLot(ctx context.Context, lotID string) (*LotView, error) {
	lot, err := s.core.repos.Material.FindLotByID(ctx, lotID)
	if err != nil {
		return nil, lookup(err, ErrLotNotFound, "耗材批次")
	}
	views, err := s.lotViews(ctx, []entity.Lot{*lot})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListLots 耗材批次列表
func (s *AllocatorService) ListLots(ctx context.Context, typeID string, activeOnly bool) ([]LotView, error) {
	lots, err := s.core.repos.Material.ListLots(ctx, typeID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("查询耗材批次失败: %w", err)
	}
	return s.lotViews(ctx, lots)
}

// CreateMaterialTypeInput 创建耗材类型
type CreateMaterialTypeInput struct {
	Material  string `json:"material" binding:"required"`
	ColorCode string `json:"color_code"`
	ColorName string `json:"color_name"`
	Brand     string `json:"brand"`
}

// CreateMaterialType 创建耗材类型
func (s *AllocatorService) CreateMaterialType(ctx context.Context, input *CreateMaterialTypeInput) (*entity.MaterialType, error) {
	material := strings.ToUpper(strings.TrimSpace(input.Material))
	if material == "" {
		return nil, invalid("材质不能为空")
	}
	now := s.core.now()
	mt := &entity.MaterialType{
		ID:        uuid.New().String(),
		Material:  material,
		ColorCode: strings.TrimSpace(input.ColorCode),
		ColorName: strings.TrimSpace(input.ColorName),
		Brand:     strings.TrimSpace(input.Brand),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.core.repos.Material.CreateType(ctx, mt); err != nil {
		return nil, fmt.Errorf("创建耗材类型失败: %w", err)
	}
	return mt, nil
}

// ListMaterialTypes 耗材类型列表
func (s *AllocatorService) ListMaterialTypes(ctx context.Context) ([]entity.MaterialType, error) {
	return s.core.repos.Material.ListTypes(ctx)
}

// PurchaseLotInput 采购耗材批次
type PurchaseLotInput struct {
	MaterialTypeID string           `json:"material_type_id" binding:"required"`
	InitialGrams   *decimal.Decimal `json:"initial_grams"`
	Cost           decimal.Decimal  `json:"cost"`
	PurchaseDate   *time.Time       `json:"purchase_date"`
}

// LotIdentifier 第 n 个（从 0 开始）批次字母：A..Z, AA..ZZ
func LotIdentifier(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	if n < len(letters) {
		return string(letters[n])
	}
	n -= len(letters)
	return string(letters[(n/len(letters))%len(letters)]) + string(letters[n%len(letters)])
}

// NextLotIdentifier 同一 (类型, 年, 月) 内第一个未使用的字母
func NextLotIdentifier(used []string) string {
	taken := make(map[string]bool, len(used))
	for _, id := range used {
		taken[id] = true
	}
	for n := 0; ; n++ {
		id := LotIdentifier(n)
		if !taken[id] {
			return id
		}
	}
}

// PurchaseLot 登记新采购的耗材批次并分配批次字母
func (s *AllocatorService) PurchaseLot(ctx context.Context, input *PurchaseLotInput) (*entity.Lot, error) {
	initial := decimal.NewFromInt(1000)
	if input.InitialGrams != nil {
		initial = *input.InitialGrams
	}
	if initial.IsNegative() {
		return nil, invalid("初始克数不能为负数")
	}
	if input.Cost.IsNegative() {
		return nil, invalid("采购价不能为负数")
	}
	purchased := s.core.now()
	if input.PurchaseDate != nil {
		purchased = *input.PurchaseDate
	}

	var lot *entity.Lot
	err := s.core.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx := s.core.repos.WithTx(db)
		if _, err := tx.Material.FindTypeByID(ctx, input.MaterialTypeID); err != nil {
			return lookup(err, ErrMaterialTypeNotFound, "耗材类型")
		}
		from := time.Date(purchased.Year(), purchased.Month(), 1, 0, 0, 0, 0, purchased.Location())
		used, err := tx.Material.CohortIdentifiers(ctx, input.MaterialTypeID, from, from.AddDate(0, 1, 0))
		if err != nil {
			return fmt.Errorf("查询同月批次失败: %w", err)
		}
		now := s.core.now()
		lot = &entity.Lot{
			ID:             uuid.New().String(),
			MaterialTypeID: input.MaterialTypeID,
			Identifier:     NextLotIdentifier(used),
			InitialGrams:   initial,
			Cost:           Round2(input.Cost),
			PurchaseDate:   purchased,
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Material.CreateLot(ctx, lot); err != nil {
			return fmt.Errorf("创建耗材批次失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

// AdjustLotInput 手工调整耗材批次
type AdjustLotInput struct {
	AdjustmentGrams *decimal.Decimal `json:"adjustment_grams"`
	Active          *bool            `json:"active"`
}

// AdjustLot 修改手工调整量或启用状态
func (s *AllocatorService) AdjustLot(ctx context.Context, lotID string, input *AdjustLotInput) (*LotView, error) {
	lot, err := s.core.repos.Material.FindLotByID(ctx, lotID)
	if err != nil {
		return nil, lookup(err, ErrLotNotFound, "耗材批次")
	}
	if input.AdjustmentGrams != nil {
		lot.AdjustmentGrams = Round2(*input.AdjustmentGrams)
	}
	if input.Active != nil {
		lot.Active = *input.Active
	}
	lot.UpdatedAt = s.core.now()
	if err := s.core.repos.Material.UpdateLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("更新耗材批次失败: %w", err)
	}
	return s.GetLot(ctx, lotID)
}
