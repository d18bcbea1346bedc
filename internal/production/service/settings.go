package service

import (
	"context"
	"fmt"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/shopspring/decimal"
)

// SettingsService 电价、损耗系数等可由操作员修改的全局设置
type SettingsService struct {
	core *core
}

// UpdateSettingsInput 更新设置，nil 表示不修改
type UpdateSettingsInput struct {
	EnergyUnitCost  *decimal.Decimal `json:"energy_unit_cost"`
	WearCoefficient *decimal.Decimal `json:"wear_coefficient"`
}

func (s *SettingsService) defaults() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		entity.SettingEnergyUnitCost:  decimal.NewFromFloat(s.core.cfg.DefaultEnergyUnitCost),
		entity.SettingWearCoefficient: decimal.NewFromFloat(s.core.cfg.DefaultWearCoefficient),
	}
}

// EnsureDefaults 写入缺失的默认设置
func (s *SettingsService) EnsureDefaults(ctx context.Context) error {
	if err := s.core.repos.Setting.EnsureDefaults(ctx, s.defaults()); err != nil {
		return fmt.Errorf("初始化设置失败: %w", err)
	}
	return nil
}

// Rates 读取当前费率
func (s *SettingsService) Rates(ctx context.Context) (CostRates, error) {
	return s.ratesFrom(ctx, s.core.repos)
}

func (s *SettingsService) ratesFrom(ctx context.Context, repos *repository.Repositories) (CostRates, error) {
	values, err := repos.Setting.All(ctx)
	if err != nil {
		return CostRates{}, fmt.Errorf("读取设置失败: %w", err)
	}
	defaults := s.defaults()
	pick := func(key string) decimal.Decimal {
		if v, ok := values[key]; ok {
			return v
		}
		return defaults[key]
	}
	return CostRates{
		EnergyUnitCost:  pick(entity.SettingEnergyUnitCost),
		WearCoefficient: pick(entity.SettingWearCoefficient),
	}, nil
}

// Update 更新设置
func (s *SettingsService) Update(ctx context.Context, input *UpdateSettingsInput) (CostRates, error) {
	if input.EnergyUnitCost != nil && input.EnergyUnitCost.IsNegative() {
		return CostRates{}, invalid("电价不能为负数")
	}
	if input.WearCoefficient != nil && input.WearCoefficient.IsNegative() {
		return CostRates{}, invalid("损耗系数不能为负数")
	}
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if input.EnergyUnitCost != nil {
			if err := tx.Setting.Set(ctx, entity.SettingEnergyUnitCost, *input.EnergyUnitCost); err != nil {
				return changefeed.Change{}, fmt.Errorf("保存电价失败: %w", err)
			}
		}
		if input.WearCoefficient != nil {
			if err := tx.Setting.Set(ctx, entity.SettingWearCoefficient, *input.WearCoefficient); err != nil {
				return changefeed.Change{}, fmt.Errorf("保存损耗系数失败: %w", err)
			}
		}
		return changefeed.Change{Kind: changefeed.KindSettings, Action: "updated"}, nil
	})
	if err != nil {
		return CostRates{}, err
	}
	return s.Rates(ctx)
}
