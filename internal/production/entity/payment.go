package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeKind 收款渠道手续费类型
const (
	FeeKindFlat       = "FLAT"       // 无手续费
	FeeKindPercentage = "PERCENTAGE" // 按比例扣费
)

// FeePolicy 手续费策略，在渠道配置时确定，交易时不再按名称匹配
type FeePolicy struct {
	Kind string
	Rate decimal.Decimal
}

// FlatFee 无手续费
func FlatFee() FeePolicy {
	return FeePolicy{Kind: FeeKindFlat}
}

// PercentageFee 按比例手续费，rate 为 0~1 之间的小数（2% = 0.02）
func PercentageFee(rate decimal.Decimal) FeePolicy {
	return FeePolicy{Kind: FeeKindPercentage, Rate: rate}
}

// Net 净收入 = 毛收入 × (1 - 费率)
func (p FeePolicy) Net(gross decimal.Decimal) decimal.Decimal {
	if p.Kind != FeeKindPercentage {
		return gross
	}
	return gross.Mul(decimal.NewFromInt(1).Sub(p.Rate))
}

// PaymentChannel 收款渠道
type PaymentChannel struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	Name      string          `json:"name" gorm:"size:100;not null;uniqueIndex"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(12,2);not null;default:0"`
	FeeKind   string          `json:"fee_kind" gorm:"size:12;not null;default:FLAT"`
	FeeRate   decimal.Decimal `json:"fee_rate" gorm:"type:decimal(6,4);not null;default:0"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (PaymentChannel) TableName() string {
	return "prod_payment_channels"
}

// FeePolicy 渠道的手续费策略
func (c *PaymentChannel) FeePolicy() FeePolicy {
	if c.FeeKind == FeeKindPercentage {
		return PercentageFee(c.FeeRate)
	}
	return FlatFee()
}
