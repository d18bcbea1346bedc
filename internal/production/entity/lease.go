package entity

import "time"

// DefaultLeaseTTL 编辑租约默认有效期
const DefaultLeaseTTL = 5 * time.Minute

// Lease 编辑租约
// 锁状态完全由持有人 + 获取时间决定，不单独持久化“是否锁定”字段，过期在读取时惰性判断。
type Lease struct {
	LockedBy *string    `json:"locked_by" gorm:"column:locked_by;size:64"`
	LockedAt *time.Time `json:"locked_at" gorm:"column:locked_at"`
}

// ExpiresAt 租约到期时间，无租约时返回 false
func (l Lease) ExpiresAt(ttl time.Duration) (time.Time, bool) {
	if l.LockedBy == nil || l.LockedAt == nil {
		return time.Time{}, false
	}
	return l.LockedAt.Add(ttl), true
}

// Active 租约在 now 时刻是否仍然有效
func (l Lease) Active(now time.Time, ttl time.Duration) bool {
	exp, ok := l.ExpiresAt(ttl)
	return ok && now.Before(exp)
}

// Holder 当前持有人（无租约时为空）
func (l Lease) Holder() string {
	if l.LockedBy == nil {
		return ""
	}
	return *l.LockedBy
}

// HeldByOther 是否被其他人持有且未过期
func (l Lease) HeldByOther(actorID string, now time.Time, ttl time.Duration) bool {
	return l.Active(now, ttl) && l.Holder() != actorID
}

// TryAcquire 获取或续期租约；被他人持有时返回持有人和 false
func (l *Lease) TryAcquire(actorID string, now time.Time, ttl time.Duration) (string, bool) {
	if l.HeldByOther(actorID, now, ttl) {
		return l.Holder(), false
	}
	holder := actorID
	at := now
	l.LockedBy = &holder
	l.LockedAt = &at
	return actorID, true
}

// Release 仅持有人可以释放；过期租约的原持有人也可以清理
func (l *Lease) Release(actorID string) bool {
	if l.LockedBy == nil || *l.LockedBy != actorID {
		return false
	}
	l.LockedBy = nil
	l.LockedAt = nil
	return true
}
