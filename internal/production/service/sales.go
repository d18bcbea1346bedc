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
)

// SalesService 销售入账与冲销、收款渠道、库存批次
type SalesService struct {
	core *core
}

// CreateChannelInput 创建收款渠道
type CreateChannelInput struct {
	Name    string          `json:"name" binding:"required"`
	FeeKind string          `json:"fee_kind"`
	FeeRate decimal.Decimal `json:"fee_rate"`
}

// ParseFeePolicy 校验手续费配置：FLAT 不带费率，PERCENTAGE 费率在 [0, 1) 之间
func ParseFeePolicy(kind string, rate decimal.Decimal) (entity.FeePolicy, error) {
	switch strings.ToUpper(kind) {
	case "", entity.FeeKindFlat:
		if !rate.IsZero() {
			return entity.FeePolicy{}, invalid("无手续费渠道不能设置费率")
		}
		return entity.FlatFee(), nil
	case entity.FeeKindPercentage:
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return entity.FeePolicy{}, invalid("手续费率必须在 0 到 1 之间")
		}
		return entity.PercentageFee(rate), nil
	}
	return entity.FeePolicy{}, invalid("无效的手续费类型: %s", kind)
}

// CreateChannel 创建收款渠道，手续费策略在此时确定
func (s *SalesService) CreateChannel(ctx context.Context, input *CreateChannelInput) (*entity.PaymentChannel, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("渠道名称不能为空")
	}
	policy, err := ParseFeePolicy(input.FeeKind, input.FeeRate)
	if err != nil {
		return nil, err
	}
	now := s.core.now()
	ch := &entity.PaymentChannel{
		ID:        uuid.New().String(),
		Name:      name,
		FeeKind:   policy.Kind,
		FeeRate:   policy.Rate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.core.repos.Channel.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("创建收款渠道失败: %w", err)
	}
	return ch, nil
}

// UpdateChannelFee 修改渠道手续费策略，不影响已入账的销售
func (s *SalesService) UpdateChannelFee(ctx context.Context, channelID, kind string, rate decimal.Decimal) (*entity.PaymentChannel, error) {
	policy, err := ParseFeePolicy(kind, rate)
	if err != nil {
		return nil, err
	}
	ch, err := s.core.repos.Channel.FindByID(ctx, channelID)
	if err != nil {
		return nil, lookup(err, ErrChannelNotFound, "收款渠道")
	}
	ch.FeeKind = policy.Kind
	ch.FeeRate = policy.Rate
	ch.UpdatedAt = s.core.now()
	if err := s.core.repos.Channel.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("更新收款渠道失败: %w", err)
	}
	return ch, nil
}

// ListChannels 收款渠道列表
func (s *SalesService) ListChannels(ctx context.Context) ([]entity.PaymentChannel, error) {
	return s.core.repos.Channel.List(ctx)
}

// GetBatch 库存批次详情
func (s *SalesService) GetBatch(ctx context.Context, batchID string) (*entity.Batch, error) {
	b, err := s.core.repos.Batch.FindByID(ctx, batchID)
	if err != nil {
		return nil, lookup(err, ErrBatchNotFound, "库存批次")
	}
	return b, nil
}

// ListBatches 库存批次列表
func (s *SalesService) ListBatches(ctx context.Context, params repository.BatchListParams) ([]entity.Batch, int64, error) {
	return s.core.repos.Batch.List(ctx, params)
}

// MoveBatch 在后处理、在库、寄售之间移动批次；售出只能走 PostSale
func (s *SalesService) MoveBatch(ctx context.Context, actorID, batchID, status string) (*entity.Batch, error) {
	switch status {
	case entity.BatchStatusPostProd, entity.BatchStatusInStock, entity.BatchStatusConsignment:
	case entity.BatchStatusSold:
		return nil, illegal("售出请使用销售入账")
	default:
		return nil, invalid("无效的批次状态: %s", status)
	}
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		b, err := tx.Batch.FindByIDForUpdate(ctx, batchID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrBatchNotFound, "库存批次")
		}
		if err := s.core.guard(b.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if b.Status == entity.BatchStatusSold {
			return changefeed.Change{}, illegal("已售批次需要先冲销")
		}
		if b.Status == status {
			return changefeed.Change{}, errUnchanged
		}
		b.Status = status
		b.UpdatedAt = s.core.now()
		if err := tx.Batch.Update(ctx, b); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新库存批次失败: %w", err)
		}
		return changefeed.Change{Kind: changefeed.KindBatch, RecordID: b.ID, Action: "moved"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBatch(ctx, batchID)
}

// PostSaleInput 销售入账，UnitPrice 为单价
type PostSaleInput struct {
	Quantity  int             `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ChannelID string          `json:"channel_id" binding:"required"`
	SoldAt    *time.Time      `json:"sold_at"`
	Buyer     string          `json:"buyer"`
}

// PostSale 售出批次的全部或部分：
// 部分售出时拆出一个 SOLD 批次，按单件成本分走材料和人工成本，原批次保留剩余；
// 渠道余额在行锁下增加净收入，净收入记录在售出批次上供冲销使用。
func (s *SalesService) PostSale(ctx context.Context, actorID, batchID string, input *PostSaleInput) (*entity.Batch, error) {
	if input.Quantity <= 0 {
		return nil, invalid("销售数量必须大于 0")
	}
	if input.UnitPrice.IsNegative() {
		return nil, invalid("售价不能为负数")
	}

	var soldID string
	var net decimal.Decimal
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		b, err := tx.Batch.FindByIDForUpdate(ctx, batchID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrBatchNotFound, "库存批次")
		}
		if err := s.core.guard(b.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if b.Status == entity.BatchStatusSold {
			return changefeed.Change{}, illegal("批次已售出")
		}
		if input.Quantity > b.Quantity {
			return changefeed.Change{}, withMessage(ErrInsufficientQuantity,
				"库存数量不足：批次剩余 %d，本次销售 %d", b.Quantity, input.Quantity)
		}
		ch, err := tx.Channel.FindByIDForUpdate(ctx, input.ChannelID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrChannelNotFound, "收款渠道")
		}

		now := s.core.now()
		soldAt := now
		if input.SoldAt != nil {
			soldAt = *input.SoldAt
		}
		qty := decimal.NewFromInt(int64(input.Quantity))
		net = Round2(ch.FeePolicy().Net(input.UnitPrice.Mul(qty)))

		sold := b
		if input.Quantity < b.Quantity {
			unitMaterial := b.MaterialCost.Div(decimal.NewFromInt(int64(b.Quantity)))
			unitLabor := b.LaborCost.Div(decimal.NewFromInt(int64(b.Quantity)))
			sourceID := b.ID
			sold = &entity.Batch{
				ID:             uuid.New().String(),
				JobID:          b.JobID,
				SequenceCode:   b.SequenceCode,
				Name:           b.Name,
				Quantity:       input.Quantity,
				MaterialCost:   Round2(unitMaterial.Mul(qty)),
				LaborCost:      Round2(unitLabor.Mul(qty)),
				SuggestedPrice: b.SuggestedPrice,
				SplitFromID:    &sourceID,
				Notes:          b.Notes,
				CreatedAt:      now,
			}
			b.Quantity -= input.Quantity
			b.MaterialCost = b.MaterialCost.Sub(sold.MaterialCost)
			b.LaborCost = b.LaborCost.Sub(sold.LaborCost)
			b.UpdatedAt = now
			if err := tx.Batch.Update(ctx, b); err != nil {
				return changefeed.Change{}, fmt.Errorf("更新库存批次失败: %w", err)
			}
		}

		sold.Status = entity.BatchStatusSold
		sold.SalePrice = decimal.NewNullDecimal(input.UnitPrice)
		sold.SoldAt = &soldAt
		sold.SoldTo = strings.TrimSpace(input.Buyer)
		sold.ChannelID = &ch.ID
		sold.CreditedNet = net
		sold.UpdatedAt = now
		if sold == b {
			err = tx.Batch.Update(ctx, sold)
		} else {
			err = tx.Batch.Create(ctx, sold)
		}
		if err != nil {
			return changefeed.Change{}, fmt.Errorf("保存售出批次失败: %w", err)
		}

		ch.Balance = ch.Balance.Add(net)
		ch.UpdatedAt = now
		if err := tx.Channel.Update(ctx, ch); err != nil {
			return changefeed.Change{}, fmt.Errorf("更新渠道余额失败: %w", err)
		}
		soldID = sold.ID
		return changefeed.Change{Kind: changefeed.KindBatch, RecordID: b.ID, Action: "sold"}, nil
	})
	if err != nil {
		return nil, err
	}
	s.core.logger.Info("sale posted",
		zap.String("batch_id", batchID),
		zap.String("sold_batch_id", soldID),
		zap.Int("quantity", input.Quantity),
		zap.String("net", net.StringFixed(2)),
		zap.String("actor", actorID))
	return s.GetBatch(ctx, soldID)
}

// EditSaleInput 修改已入账的销售，nil 字段保持原值
type EditSaleInput struct {
	UnitPrice *decimal.Decimal `json:"unit_price"`
	ChannelID *string          `json:"channel_id"`
	SoldAt    *time.Time       `json:"sold_at"`
	Buyer     *string          `json:"buyer"`
	Notes     *string          `json:"notes"`
}

// EditSale 修改售价、渠道、日期、买家或备注：
// 原渠道减去销售时记录的净收入，再按新售价和新渠道当前费率重新入账。
func (s *SalesService) EditSale(ctx context.Context, actorID, batchID string, input *EditSaleInput) (*entity.Batch, error) {
	if input.UnitPrice != nil && input.UnitPrice.IsNegative() {
		return nil, invalid("售价不能为负数")
	}
	if input.ChannelID != nil && strings.TrimSpace(*input.ChannelID) == "" {
		return nil, invalid("收款渠道不能为空")
	}

	var oldNet, newNet decimal.Decimal
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		sold, err := tx.Batch.FindByIDForUpdate(ctx, batchID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrBatchNotFound, "库存批次")
		}
		if err := s.core.guard(sold.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if sold.Status != entity.BatchStatusSold {
			return changefeed.Change{}, illegal("批次未售出，不能修改销售")
		}

		// 同一渠道只锁一次，避免新旧两份余额互相覆盖
		channels := make(map[string]*entity.PaymentChannel, 2)
		channel := func(id string) (*entity.PaymentChannel, error) {
			if ch, ok := channels[id]; ok {
				return ch, nil
			}
			ch, err := tx.Channel.FindByIDForUpdate(ctx, id)
			if err != nil {
				return nil, lookup(err, ErrChannelNotFound, "收款渠道")
			}
			channels[id] = ch
			return ch, nil
		}

		now := s.core.now()
		oldNet = sold.CreditedNet
		if sold.ChannelID != nil {
			old, err := channel(*sold.ChannelID)
			if err != nil {
				return changefeed.Change{}, err
			}
			old.Balance = old.Balance.Sub(oldNet)
		}

		targetID := ""
		if sold.ChannelID != nil {
			targetID = *sold.ChannelID
		}
		if input.ChannelID != nil {
			targetID = strings.TrimSpace(*input.ChannelID)
		}
		if targetID == "" {
			return changefeed.Change{}, invalid("收款渠道不能为空")
		}
		target, err := channel(targetID)
		if err != nil {
			return changefeed.Change{}, err
		}

		if input.UnitPrice != nil {
			sold.SalePrice = decimal.NewNullDecimal(*input.UnitPrice)
		}
		if input.SoldAt != nil {
			sold.SoldAt = input.SoldAt
		}
		if input.Buyer != nil {
			sold.SoldTo = strings.TrimSpace(*input.Buyer)
		}
		if input.Notes != nil {
			sold.Notes = *input.Notes
		}
		newNet = Round2(target.FeePolicy().Net(sold.GrossRevenue()))
		target.Balance = target.Balance.Add(newNet)
		sold.ChannelID = &target.ID
		sold.CreditedNet = newNet
		sold.UpdatedAt = now
		if err := tx.Batch.Update(ctx, sold); err != nil {
			return changefeed.Change{}, fmt.Errorf("保存售出批次失败: %w", err)
		}

		for _, ch := range channels {
			ch.UpdatedAt = now
			if err := tx.Channel.Update(ctx, ch); err != nil {
				return changefeed.Change{}, fmt.Errorf("更新渠道余额失败: %w", err)
			}
		}
		return changefeed.Change{Kind: changefeed.KindBatch, RecordID: sold.ID, Action: "sale_edited"}, nil
	})
	if err != nil {
		return nil, err
	}
	s.core.logger.Info("sale edited",
		zap.String("batch_id", batchID),
		zap.String("old_net", oldNet.StringFixed(2)),
		zap.String("new_net", newNet.StringFixed(2)),
		zap.String("actor", actorID))
	return s.GetBatch(ctx, batchID)
}

// ReverseSale 冲销一笔销售：渠道余额减去当时记录的净收入；
// 数量和成本优先并回拆分来源批次，其次并入同工单同编号的在库批次，都没有则原地恢复为在库。
func (s *SalesService) ReverseSale(ctx context.Context, actorID, batchID string) (*entity.Batch, error) {
	var restoredID string
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		sold, err := tx.Batch.FindByIDForUpdate(ctx, batchID)
		if err != nil {
			return changefeed.Change{}, lookup(err, ErrBatchNotFound, "库存批次")
		}
		if err := s.core.guard(sold.Lease, actorID); err != nil {
			return changefeed.Change{}, err
		}
		if sold.Status != entity.BatchStatusSold {
			return changefeed.Change{}, illegal("批次未售出，无需冲销")
		}

		now := s.core.now()
		if sold.ChannelID != nil {
			ch, err := tx.Channel.FindByIDForUpdate(ctx, *sold.ChannelID)
			if err != nil {
				return changefeed.Change{}, lookup(err, ErrChannelNotFound, "收款渠道")
			}
			ch.Balance = ch.Balance.Sub(sold.CreditedNet)
			ch.UpdatedAt = now
			if err := tx.Channel.Update(ctx, ch); err != nil {
				return changefeed.Change{}, fmt.Errorf("更新渠道余额失败: %w", err)
			}
		}

		target, err := s.mergeTarget(ctx, tx, sold)
		if err != nil {
			return changefeed.Change{}, err
		}
		if target != nil {
			target.Quantity += sold.Quantity
			target.MaterialCost = target.MaterialCost.Add(sold.MaterialCost)
			target.LaborCost = target.LaborCost.Add(sold.LaborCost)
			target.UpdatedAt = now
			if err := tx.Batch.Update(ctx, target); err != nil {
				return changefeed.Change{}, fmt.Errorf("合并库存批次失败: %w", err)
			}
			if err := tx.Batch.Delete(ctx, sold.ID); err != nil {
				return changefeed.Change{}, fmt.Errorf("删除售出批次失败: %w", err)
			}
			restoredID = target.ID
		} else {
			sold.Status = entity.BatchStatusInStock
			sold.SalePrice = decimal.NullDecimal{}
			sold.SoldAt = nil
			sold.SoldTo = ""
			sold.ChannelID = nil
			sold.CreditedNet = decimal.Zero
			sold.SplitFromID = nil
			sold.UpdatedAt = now
			if err := tx.Batch.Update(ctx, sold); err != nil {
				return changefeed.Change{}, fmt.Errorf("恢复库存批次失败: %w", err)
			}
			restoredID = sold.ID
		}
		return changefeed.Change{Kind: changefeed.KindBatch, RecordID: restoredID, Action: "sale_reversed"}, nil
	})
	if err != nil {
		return nil, err
	}
	s.core.logger.Info("sale reversed",
		zap.String("batch_id", batchID),
		zap.String("restored_batch_id", restoredID),
		zap.String("actor", actorID))
	return s.GetBatch(ctx, restoredID)
}

// mergeTarget 冲销时接收数量的批次，没有则返回 nil
func (s *SalesService) mergeTarget(ctx context.Context, tx *repository.Repositories, sold *entity.Batch) (*entity.Batch, error) {
	if sold.SplitFromID != nil {
		source, err := tx.Batch.FindByIDForUpdate(ctx, *sold.SplitFromID)
		switch {
		case err == nil && source.Status != entity.BatchStatusSold:
			return source, nil
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("查询来源批次失败: %w", err)
		}
	}
	peer, err := tx.Batch.FindInStockPeer(ctx, sold)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询在库批次失败: %w", err)
	}
	return peer, nil
}
