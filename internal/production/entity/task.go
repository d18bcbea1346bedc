package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus 打印任务状态
const (
	TaskStatusTodo     = "TODO"
	TaskStatusPrinting = "PRINTING"
	TaskStatusDone     = "DONE"
	TaskStatusFailed   = "FAILED"
)

// ValidTaskStatus 校验任务状态取值
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusTodo, TaskStatusPrinting, TaskStatusDone, TaskStatusFailed:
		return true
	}
	return false
}

// Task 打印任务（单个打印文件的一次运行）
type Task struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	JobID           string     `json:"job_id" gorm:"size:36;not null;index"`
	Name            string     `json:"name" gorm:"size:200;not null"`
	MachineID       *string    `json:"machine_id" gorm:"size:36;index"`
	PlateID         *string    `json:"plate_id" gorm:"size:36"`
	Status          string     `json:"status" gorm:"size:10;not null;default:TODO;index"`
	QueuePosition   int        `json:"queue_position" gorm:"not null;default:0"`
	DurationSeconds int        `json:"duration_seconds" gorm:"not null;default:0"`
	PerRunQty       int        `json:"per_run_qty" gorm:"not null;default:1"`
	ActualQty       int        `json:"actual_qty" gorm:"not null;default:0"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Machine *Machine        `json:"machine,omitempty" gorm:"foreignKey:MachineID"`
	Usages  []MaterialUsage `json:"usages,omitempty" gorm:"foreignKey:TaskID"`
}

func (Task) TableName() string {
	return "prod_tasks"
}

// Consumed DONE 和 FAILED 的任务才真正消耗耗材
func (t *Task) Consumed() bool {
	return t.Status == TaskStatusDone || t.Status == TaskStatusFailed
}

// Open 任务仍在排队或打印中
func (t *Task) Open() bool {
	return t.Status == TaskStatusTodo || t.Status == TaskStatusPrinting
}

// MaterialUsage 任务耗材用量，随任务整体替换
type MaterialUsage struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	TaskID       string          `json:"task_id" gorm:"size:36;not null;index"`
	LotID        string          `json:"lot_id" gorm:"size:36;not null;index"`
	PlannedGrams decimal.Decimal `json:"planned_grams" gorm:"type:decimal(10,2);not null;default:0"`
	Grams        decimal.Decimal `json:"grams" gorm:"type:decimal(10,2);not null;default:0"` // 实际计入的克数
	CreatedAt    time.Time       `json:"created_at"`

	Lot *Lot `json:"lot,omitempty" gorm:"foreignKey:LotID"`
}

func (MaterialUsage) TableName() string {
	return "prod_material_usages"
}
