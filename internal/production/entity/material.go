package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaterialType 耗材类型（材质 + 颜色 + 品牌）
type MaterialType struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Material  string    `json:"material" gorm:"size:10;not null"` // PLA, PETG, ABS, TPU, ASA
	ColorCode string    `json:"color_code" gorm:"size:3"`
	ColorName string    `json:"color_name" gorm:"size:100"`
	Brand     string    `json:"brand" gorm:"size:50"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Lots []Lot `json:"lots,omitempty" gorm:"foreignKey:MaterialTypeID"`
}

func (MaterialType) TableName() string {
	return "prod_material_types"
}

// Lot 耗材批次（线轴）
// 剩余量 = 初始量 + 手工调整 - DONE/FAILED 任务已计入用量，只从当前数据推导，不维护累计计数器。
type Lot struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	MaterialTypeID  string          `json:"material_type_id" gorm:"size:36;not null;index"`
	Identifier      string          `json:"identifier" gorm:"size:2"` // 同类型同月采购批次字母 A/B/C...
	InitialGrams    decimal.Decimal `json:"initial_grams" gorm:"type:decimal(10,2);not null;default:1000"`
	AdjustmentGrams decimal.Decimal `json:"adjustment_grams" gorm:"type:decimal(10,2);not null;default:0"`
	Cost            decimal.Decimal `json:"cost" gorm:"type:decimal(10,2);not null;default:0"` // 整卷采购价
	PurchaseDate    time.Time       `json:"purchase_date"`
	Active          bool            `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	MaterialType *MaterialType `json:"material_type,omitempty" gorm:"foreignKey:MaterialTypeID"`
}

func (Lot) TableName() string {
	return "prod_lots"
}

// CostPerGram 每克成本，初始量为 0 的批次按零成本处理
func (l *Lot) CostPerGram() decimal.Decimal {
	if !l.InitialGrams.IsPositive() {
		return decimal.Zero
	}
	return l.Cost.Div(l.InitialGrams)
}
