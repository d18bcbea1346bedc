package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 生产仓库集合
type Repositories struct {
	Job      *JobRepository
	Task     *TaskRepository
	Machine  *MachineRepository
	Material *MaterialRepository
	Batch    *BatchRepository
	Channel  *ChannelRepository
	Template *TemplateRepository
	Setting  *SettingRepository
	Version  *VersionRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Job:      NewJobRepository(db),
		Task:     NewTaskRepository(db),
		Machine:  NewMachineRepository(db),
		Material: NewMaterialRepository(db),
		Batch:    NewBatchRepository(db),
		Channel:  NewChannelRepository(db),
		Template: NewTemplateRepository(db),
		Setting:  NewSettingRepository(db),
		Version:  NewVersionRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合，事务内的所有读写都必须走它
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

// forUpdate 行级锁（SQLite 方言会忽略）
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return page, size
}
