package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MachineService 打印机与保养计时
type MachineService struct {
	core *core
}

// CreateMachineInput 创建打印机
type CreateMachineInput struct {
	Name       string   `json:"name" binding:"required"`
	Model      string   `json:"model"`
	PowerWatts int      `json:"power_watts"`
	Plates     []string `json:"plates"`
}

// MachineView 打印机及保养信息
type MachineView struct {
	entity.Machine
	HoursSinceMaintenance decimal.Decimal `json:"hours_since_maintenance"`
}

// Create 创建打印机
func (s *MachineService) Create(ctx context.Context, input *CreateMachineInput) (*entity.Machine, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, invalid("打印机名称不能为空")
	}
	power := input.PowerWatts
	if power == 0 {
		power = 150
	}
	if power < 0 {
		return nil, invalid("功率不能为负数")
	}
	now := s.core.now()
	m := &entity.Machine{
		ID:                   uuid.New().String(),
		Name:                 name,
		Model:                strings.TrimSpace(input.Model),
		PowerWatts:           power,
		LastMaintenanceReset: now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	for _, p := range input.Plates {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		m.Plates = append(m.Plates, entity.Plate{ID: uuid.New().String(), MachineID: m.ID, Name: p, CreatedAt: now})
	}
	if err := s.core.repos.Machine.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("创建打印机失败: %w", err)
	}
	return m, nil
}

func (s *MachineService) view(ctx context.Context, m *entity.Machine) (*MachineView, error) {
	seconds, err := s.core.repos.Task.PrintedSecondsSince(ctx, m.ID, m.LastMaintenanceReset)
	if err != nil {
		return nil, fmt.Errorf("统计打印时长失败: %w", err)
	}
	return &MachineView{
		Machine:               *m,
		HoursSinceMaintenance: decimal.NewFromInt(seconds).Div(secondsPerHour).Round(1),
	}, nil
}

// Get 打印机详情（含上次保养以来的打印小时数）
func (s *MachineService) Get(ctx context.Context, id string) (*MachineView, error) {
	m, err := s.core.repos.Machine.FindByID(ctx, id)
	if err != nil {
		return nil, lookup(err, ErrMachineNotFound, "打印机")
	}
	return s.view(ctx, m)
}

// List 打印机列表
func (s *MachineService) List(ctx context.Context) ([]MachineView, error) {
	machines, err := s.core.repos.Machine.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询打印机失败: %w", err)
	}
	views := make([]MachineView, 0, len(machines))
	for i := range machines {
		v, err := s.view(ctx, &machines[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// ResetMaintenance 保养完成，计时清零
func (s *MachineService) ResetMaintenance(ctx context.Context, id string) (*MachineView, error) {
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		if err := tx.Machine.ResetMaintenance(ctx, id, s.core.now()); err != nil {
			return changefeed.Change{}, lookup(err, ErrMachineNotFound, "打印机")
		}
		return changefeed.Change{Kind: changefeed.KindMachine, RecordID: id, Action: "maintenance_reset"}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
