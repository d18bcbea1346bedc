package service

import (
	"context"
	"strings"
	"time"

	"github.com/3D-MAGE/app3dmage/internal/production/changefeed"
	"github.com/3D-MAGE/app3dmage/internal/production/entity"
	"github.com/3D-MAGE/app3dmage/internal/production/repository"
	"go.uber.org/zap"
)

// 可加租约的记录类型
const (
	RecordJob   = "job"
	RecordBatch = "batch"
)

// LeaseService 编辑租约
type LeaseService struct {
	core *core
}

// LeaseView 租约状态
type LeaseView struct {
	RecordType string     `json:"record_type"`
	RecordID   string     `json:"record_id"`
	Holder     string     `json:"holder,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (s *LeaseService) view(recordType, recordID string, l entity.Lease) *LeaseView {
	v := &LeaseView{RecordType: recordType, RecordID: recordID}
	if !l.Active(s.core.now(), s.core.cfg.LeaseTTL) {
		return v
	}
	exp, _ := l.ExpiresAt(s.core.cfg.LeaseTTL)
	v.Holder = l.Holder()
	v.AcquiredAt = l.LockedAt
	v.ExpiresAt = &exp
	return v
}

// leaseTarget 读写某条记录租约的入口
type leaseTarget struct {
	load  func(ctx context.Context, id string) (entity.Lease, error)
	store func(ctx context.Context, id string, l entity.Lease) error
	kind  string
}

func (s *LeaseService) target(tx *repository.Repositories, recordType string) (*leaseTarget, error) {
	switch recordType {
	case RecordJob:
		return &leaseTarget{
			load: func(ctx context.Context, id string) (entity.Lease, error) {
				job, err := tx.Job.FindByIDForUpdate(ctx, id)
				if err != nil {
					return entity.Lease{}, lookup(err, ErrJobNotFound, "工单")
				}
				return job.Lease, nil
			},
			store: tx.Job.UpdateLease,
			kind:  changefeed.KindJob,
		}, nil
	case RecordBatch:
		return &leaseTarget{
			load: func(ctx context.Context, id string) (entity.Lease, error) {
				b, err := tx.Batch.FindByIDForUpdate(ctx, id)
				if err != nil {
					return entity.Lease{}, lookup(err, ErrBatchNotFound, "库存批次")
				}
				return b.Lease, nil
			},
			store: tx.Batch.UpdateLease,
			kind:  changefeed.KindBatch,
		}, nil
	}
	return nil, invalid("不支持的记录类型: %s", recordType)
}

func validateActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return invalid("缺少操作人")
	}
	return nil
}

// Acquire 获取或续期租约，他人持有且未过期时返回 ErrLeaseHeld
func (s *LeaseService) Acquire(ctx context.Context, recordType, recordID, actorID string) (*LeaseView, error) {
	if err := validateActor(actorID); err != nil {
		return nil, err
	}
	var result *LeaseView
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		t, err := s.target(tx, recordType)
		if err != nil {
			return changefeed.Change{}, err
		}
		l, err := t.load(ctx, recordID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if holder, ok := l.TryAcquire(actorID, s.core.now(), s.core.cfg.LeaseTTL); !ok {
			s.core.logger.Debug("lease acquire refused",
				zap.String("record_type", recordType),
				zap.String("record_id", recordID),
				zap.String("holder", holder),
				zap.String("actor", actorID))
			return changefeed.Change{}, leaseHeld(holder)
		}
		if err := t.store(ctx, recordID, l); err != nil {
			return changefeed.Change{}, err
		}
		result = s.view(recordType, recordID, l)
		return changefeed.Change{Kind: t.kind, RecordID: recordID, Action: "lease_acquired"}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Release 只有持有人能释放；租约已不存在或已过期时视为成功
func (s *LeaseService) Release(ctx context.Context, recordType, recordID, actorID string) (*LeaseView, error) {
	if err := validateActor(actorID); err != nil {
		return nil, err
	}
	var result *LeaseView
	err := s.core.mutate(ctx, func(tx *repository.Repositories) (changefeed.Change, error) {
		t, err := s.target(tx, recordType)
		if err != nil {
			return changefeed.Change{}, err
		}
		l, err := t.load(ctx, recordID)
		if err != nil {
			return changefeed.Change{}, err
		}
		if !l.Release(actorID) {
			if l.HeldByOther(actorID, s.core.now(), s.core.cfg.LeaseTTL) {
				return changefeed.Change{}, leaseHeld(l.Holder())
			}
			result = s.view(recordType, recordID, l)
			return changefeed.Change{}, errUnchanged
		}
		if err := t.store(ctx, recordID, l); err != nil {
			return changefeed.Change{}, err
		}
		result = s.view(recordType, recordID, l)
		return changefeed.Change{Kind: t.kind, RecordID: recordID, Action: "lease_released"}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Status 查看租约（只读）
func (s *LeaseService) Status(ctx context.Context, recordType, recordID string) (*LeaseView, error) {
	t, err := s.target(s.core.repos, recordType)
	if err != nil {
		return nil, err
	}
	l, err := t.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return s.view(recordType, recordID, l), nil
}
