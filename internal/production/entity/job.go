package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus 工单状态
const (
	JobStatusQuote    = "QUOTE"    // 报价中
	JobStatusTodo     = "TODO"     // 待打印
	JobStatusPrinting = "PRINTING" // 打印中
	JobStatusPrinted  = "PRINTED"  // 打印完成，待后处理
	JobStatusDone     = "DONE"     // 已完工入库
)

// JobPriority 工单优先级
const (
	JobPriorityUrgent = "URGENT"
	JobPriorityHigh   = "HIGH"
	JobPriorityMedium = "MEDIUM"
	JobPriorityLow    = "LOW"
)

// Job 生产工单
type Job struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	SequenceCode *string    `json:"sequence_code" gorm:"size:10;uniqueIndex"` // 对外编号，如 26001
	TemplateID   *string    `json:"template_id" gorm:"size:36;index"`
	Name         string     `json:"name" gorm:"size:200;not null"`
	Priority     string     `json:"priority" gorm:"size:10;not null;default:MEDIUM"`
	Status       string     `json:"status" gorm:"size:10;not null;default:QUOTE;index"`
	PlannedQty   int        `json:"planned_qty" gorm:"not null;default:1"`
	ProducedQty  int        `json:"produced_qty" gorm:"not null;default:0"`
	Notes        string     `json:"notes" gorm:"type:text"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedBy    string     `json:"created_by" gorm:"size:64"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Lease        `gorm:"embedded"`

	Template *Template `json:"template,omitempty" gorm:"foreignKey:TemplateID"`
	Tasks    []Task    `json:"tasks,omitempty" gorm:"foreignKey:JobID"`
}

func (Job) TableName() string {
	return "prod_jobs"
}

// IsSticky QUOTE 与 DONE 不参与任务状态推导
func (j *Job) IsSticky() bool {
	return j.Status == JobStatusQuote || j.Status == JobStatusDone
}

// DeriveJobStatus 根据任务状态推导工单状态
//   - 任一任务 PRINTING -> PRINTING
//   - 没有 TODO/PRINTING（全部 DONE/FAILED）-> PRINTED
//   - 其他 -> TODO
//
// 没有任务的工单保持 TODO。
func DeriveJobStatus(taskStatuses []string) string {
	if len(taskStatuses) == 0 {
		return JobStatusTodo
	}
	open := 0
	for _, s := range taskStatuses {
		switch s {
		case TaskStatusPrinting:
			return JobStatusPrinting
		case TaskStatusTodo:
			open++
		}
	}
	if open == 0 {
		return JobStatusPrinted
	}
	return JobStatusTodo
}

// Template 产品模板（主项目）
type Template struct {
	ID             string              `json:"id" gorm:"primaryKey;size:36"`
	Name           string              `json:"name" gorm:"size:200;not null"`
	SuggestedPrice decimal.NullDecimal `json:"suggested_price" gorm:"type:decimal(12,2)"` // 固定建议售价，空则按成本加成
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`

	Files []TemplateFile `json:"files,omitempty" gorm:"foreignKey:TemplateID"`
}

func (Template) TableName() string {
	return "prod_templates"
}

// TemplateFile 模板中的打印文件，按模板建工单时展开成任务
type TemplateFile struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	TemplateID      string    `json:"template_id" gorm:"size:36;not null;index"`
	Name            string    `json:"name" gorm:"size:200;not null"`
	MachineID       *string   `json:"machine_id" gorm:"size:36"`
	PlateID         *string   `json:"plate_id" gorm:"size:36"`
	DurationSeconds int       `json:"duration_seconds" gorm:"not null;default:0"`
	PerRunQty       int       `json:"per_run_qty" gorm:"not null;default:1"`
	SortOrder       int       `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt       time.Time `json:"created_at"`

	Usages []TemplateUsage `json:"usages,omitempty" gorm:"foreignKey:TemplateFileID"`
}

func (TemplateFile) TableName() string {
	return "prod_template_files"
}

// TemplateUsage 模板文件的耗材用量，只指定耗材类型，建任务时选用在用批次
type TemplateUsage struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	TemplateFileID string          `json:"template_file_id" gorm:"size:36;not null;index"`
	MaterialTypeID string          `json:"material_type_id" gorm:"size:36;not null"`
	Grams          decimal.Decimal `json:"grams" gorm:"type:decimal(12,2);not null;default:0"`
}

func (TemplateUsage) TableName() string {
	return "prod_template_usages"
}
