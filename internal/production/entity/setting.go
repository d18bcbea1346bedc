package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 全局设置键
const (
	SettingEnergyUnitCost  = "energy_unit_cost"  // 电价 / kWh
	SettingWearCoefficient = "wear_coefficient" // 设备损耗 / 小时
)

// Setting 全局设置（键值单例）
type Setting struct {
	Key       string          `json:"key" gorm:"primaryKey;size:100"`
	Value     decimal.Decimal `json:"value" gorm:"type:decimal(12,4);not null;default:0"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Setting) TableName() string {
	return "prod_settings"
}

// ChangeVersionID 全局版本号只有一行
const ChangeVersionID = 1

// ChangeVersion 全局变更版本号，客户端轮询比对
type ChangeVersion struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Version   int64     `json:"version" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ChangeVersion) TableName() string {
	return "prod_change_versions"
}

// SequenceCounter 对外编号计数器，每个期间一行，取号时行锁串行
type SequenceCounter struct {
	Period     string `json:"period" gorm:"primaryKey;size:8"`
	LastNumber int    `json:"last_number" gorm:"not null;default:0"`
}

func (SequenceCounter) TableName() string {
	return "prod_sequence_counters"
}
