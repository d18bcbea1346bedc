package entity

import "time"

// Machine 打印机
type Machine struct {
	ID                   string    `json:"id" gorm:"primaryKey;size:36"`
	Name                 string    `json:"name" gorm:"size:100;not null"`
	Model                string    `json:"model" gorm:"size:100"`
	PowerWatts           int       `json:"power_watts" gorm:"not null;default:150"` // 打印时平均功率
	LastMaintenanceReset time.Time `json:"last_maintenance_reset"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Plates []Plate `json:"plates,omitempty" gorm:"foreignKey:MachineID"`
}

func (Machine) TableName() string {
	return "prod_machines"
}

// Plate 打印平台
type Plate struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	MachineID string    `json:"machine_id" gorm:"size:36;not null;index"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (Plate) TableName() string {
	return "prod_plates"
}
