package service

import (
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/shopspring/decimal"
)

var (
	secondsPerHour = decimal.NewFromInt(3600)
	wattsPerKW     = decimal.NewFromInt(1000)
)

// CostRates 成本计算使用的全局费率
type CostRates struct {
	EnergyUnitCost  decimal.Decimal `json:"energy_unit_cost"` // 每 kWh
	WearCoefficient decimal.Decimal `json:"wear_coefficient"` // 每打印小时
}

// TaskCost 单个任务成本明细（未舍入）
type TaskCost struct {
	Material decimal.Decimal `json:"material"`
	Energy   decimal.Decimal `json:"energy"`
	Wear     decimal.Decimal `json:"wear"`
	Total    decimal.Decimal `json:"total"`
}

// Rounded 两位小数的展示值
func (c TaskCost) Rounded() TaskCost {
	return TaskCost{
		Material: Round2(c.Material),
		Energy:   Round2(c.Energy),
		Wear:     Round2(c.Wear),
		Total:    Round2(c.Total),
	}
}

// CostEngine 纯计算，不读写数据库
// 任务需要预加载 Usages.Lot 和 Machine；所有中间值保持全精度，只在展示和持久化时舍入。
type CostEngine struct {
	Rates CostRates
}

// NewCostEngine 创建成本计算器
func NewCostEngine(rates CostRates) CostEngine {
	return CostEngine{Rates: rates}
}

// MaterialCost Σ 克数 × 整卷价格 / 整卷克数
func (e CostEngine) MaterialCost(task *entity.Task) decimal.Decimal {
	total := decimal.Zero
	for i := range task.Usages {
		u := &task.Usages[i]
		if u.Lot == nil {
			continue
		}
		total = total.Add(u.Grams.Mul(u.Lot.CostPerGram()))
	}
	return total
}

// EnergyCost 小时 × kW × 电价
func (e CostEngine) EnergyCost(task *entity.Task) decimal.Decimal {
	if task.Machine == nil {
		return decimal.Zero
	}
	kw := decimal.NewFromInt(int64(task.Machine.PowerWatts)).Div(wattsPerKW)
	return hours(task.DurationSeconds).Mul(kw).Mul(e.Rates.EnergyUnitCost)
}

// WearCost 小时 × 损耗系数
func (e CostEngine) WearCost(task *entity.Task) decimal.Decimal {
	return hours(task.DurationSeconds).Mul(e.Rates.WearCoefficient)
}

// TaskCost 任务成本 = 材料 + 电费 + 损耗
func (e CostEngine) TaskCost(task *entity.Task) TaskCost {
	c := TaskCost{
		Material: e.MaterialCost(task),
		Energy:   e.EnergyCost(task),
		Wear:     e.WearCost(task),
	}
	c.Total = c.Material.Add(c.Energy).Add(c.Wear)
	return c
}

// TotalCost 任务总成本
func (e CostEngine) TotalCost(task *entity.Task) decimal.Decimal {
	return e.TaskCost(task).Total
}

// JobFullCost 工单全部任务成本之和，先求和再舍入
func (e CostEngine) JobFullCost(tasks []entity.Task) decimal.Decimal {
	total := decimal.Zero
	for i := range tasks {
		total = total.Add(e.TotalCost(&tasks[i]))
	}
	return total
}

func hours(seconds int) decimal.Decimal {
	return decimal.NewFromInt(int64(seconds)).Div(secondsPerHour)
}

// Round2 金额舍入到分
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
