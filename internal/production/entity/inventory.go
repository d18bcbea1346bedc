package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus 库存批次状态
const (
	BatchStatusPostProd    = "POST_PROD"   // 后处理中
	BatchStatusInStock     = "IN_STOCK"    // 在库
	BatchStatusConsignment = "CONSIGNMENT" // 寄售
	BatchStatusSold        = "SOLD"        // 已售
)

// Batch 成品库存批次
// MaterialCost / LaborCost 为整批合计，不是单件成本。
type Batch struct {
	ID             string              `json:"id" gorm:"primaryKey;size:36"`
	JobID          *string             `json:"job_id" gorm:"size:36;index"`
	SequenceCode   *string             `json:"sequence_code" gorm:"size:10;index"`
	Name           string              `json:"name" gorm:"size:200;not null"`
	Quantity       int                 `json:"quantity" gorm:"not null;default:1"`
	Status         string              `json:"status" gorm:"size:20;not null;default:POST_PROD;index"`
	MaterialCost   decimal.Decimal     `json:"material_cost" gorm:"type:decimal(12,2);not null;default:0"`
	LaborCost      decimal.Decimal     `json:"labor_cost" gorm:"type:decimal(12,2);not null;default:0"`
	SuggestedPrice decimal.Decimal     `json:"suggested_price" gorm:"type:decimal(12,2);not null;default:0"`
	SalePrice      decimal.NullDecimal `json:"sale_price" gorm:"type:decimal(12,2)"` // 单价
	SoldAt         *time.Time          `json:"sold_at"`
	SoldTo         string              `json:"sold_to" gorm:"size:100"`
	ChannelID      *string             `json:"channel_id" gorm:"size:36;index"`
	CreditedNet    decimal.Decimal     `json:"credited_net" gorm:"type:decimal(12,2);not null;default:0"` // 销售时实际入账净额
	SplitFromID    *string             `json:"split_from_id" gorm:"size:36"`
	Notes          string              `json:"notes" gorm:"type:text"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Lease          `gorm:"embedded"`

	Channel *PaymentChannel `json:"channel,omitempty" gorm:"foreignKey:ChannelID"`
}

func (Batch) TableName() string {
	return "prod_batches"
}

// UnitCost 单件生产成本（材料 + 人工）
func (b *Batch) UnitCost() decimal.Decimal {
	if b.Quantity <= 0 {
		return decimal.Zero
	}
	return b.MaterialCost.Add(b.LaborCost).Div(decimal.NewFromInt(int64(b.Quantity)))
}

// GrossRevenue 销售总额
func (b *Batch) GrossRevenue() decimal.Decimal {
	if !b.SalePrice.Valid {
		return decimal.Zero
	}
	return b.SalePrice.Decimal.Mul(decimal.NewFromInt(int64(b.Quantity)))
}
