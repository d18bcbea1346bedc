package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/config"
	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 生产服务集合
type Services struct {
	Settings  *SettingsService
	Version   *VersionService
	Lease     *LeaseService
	Allocator *AllocatorService
	Scheduler *SchedulerService
	Job       *JobService
	Sales     *SalesService
	Machine   *MachineService

	core *core
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, cfg config.ProductionConfig, notifier changefeed.Notifier, logger *zap.Logger) *Services {
	if notifier == nil {
		notifier = changefeed.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = config.DefaultProduction().LeaseTTL
	}
	if cfg.MarkupFactor <= 0 {
		cfg.MarkupFactor = config.DefaultProduction().MarkupFactor
	}
	c := &core{
		db:       db,
		repos:    repos,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}

	settings := &SettingsService{core: c}
	allocator := &AllocatorService{core: c}
	jobs := &JobService{core: c, settings: settings, allocator: allocator}
	return &Services{
		Settings:  settings,
		Version:   &VersionService{core: c},
		Lease:     &LeaseService{core: c},
		Allocator: allocator,
		Scheduler: &SchedulerService{core: c, allocator: allocator, jobs: jobs},
		Job:       jobs,
		Sales:     &SalesService{core: c},
		Machine:   &MachineService{core: c},
		core:      c,
	}
}

// SetClock 替换时间源（租约过期、完工时间）
func (s *Services) SetClock(now func() time.Time) {
	s.core.now = now
}

// errUnchanged 事务内判定没有任何修改时返回，回滚且不递增版本号
var errUnchanged = errors.New("unchanged")

// core 各服务共享的依赖
type core struct {
	db       *gorm.DB
	repos    *repository.Repositories
	notifier changefeed.Notifier
	logger   *zap.Logger
	cfg      config.ProductionConfig
	now      func() time.Time
}

// mutate 所有写操作的统一入口：
// 在一个事务里执行 fn 并递增全局版本号，任何一步失败整体回滚；提交成功后再推送变更。
func (c *core) mutate(ctx context.Context, fn func(tx *repository.Repositories) (changefeed.Change, error)) error {
	var change changefeed.Change
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepos := c.repos.WithTx(tx)
		var err error
		change, err = fn(txRepos)
		if err != nil {
			return err
		}
		version, err := txRepos.Version.Bump(ctx)
		if err != nil {
			return fmt.Errorf("更新版本号失败: %w", err)
		}
		change = changefeed.NewChange(version, change.Kind, change.RecordID, change.Action)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	c.notifier.Notify(ctx, change)
	return nil
}

// guard 编辑前检查租约：被他人持有且未过期时拒绝
func (c *core) guard(l entity.Lease, actorID string) error {
	if l.HeldByOther(actorID, c.now(), c.cfg.LeaseTTL) {
		c.logger.Debug("lease conflict", zap.String("holder", l.Holder()), zap.String("actor", actorID))
		return leaseHeld(l.Holder())
	}
	return nil
}
