package service

import (
	"errors"
	"fmt"

	"github.com/3D-MAGE/app3dmage/internal/production/repository"
)

// Kind 错误分类
type Kind string

const (
	KindValidation Kind = "validation" // 输入不合法，未做任何修改
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"  // 租约冲突、非法状态迁移
	KindIntegrity  Kind = "integrity" // 数量不足、引用的批次或机器不存在
)

// Error 业务错误，Reason 用于调用方区分具体原因
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Holder  string // 租约冲突时的当前持有人
}

func (e *Error) Error() string {
	return e.Message
}

// Is 按 Reason 匹配，便于 errors.Is(err, ErrLeaseHeld)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

// 错误定义
var (
	ErrInvalidInput         = &Error{Kind: KindValidation, Reason: "invalid_input", Message: "参数错误"}
	ErrJobNotFound          = &Error{Kind: KindNotFound, Reason: "job_not_found", Message: "工单不存在"}
	ErrTaskNotFound         = &Error{Kind: KindNotFound, Reason: "task_not_found", Message: "打印任务不存在"}
	ErrBatchNotFound        = &Error{Kind: KindNotFound, Reason: "batch_not_found", Message: "库存批次不存在"}
	ErrTemplateNotFound     = &Error{Kind: KindNotFound, Reason: "template_not_found", Message: "产品模板不存在"}
	ErrMaterialTypeNotFound = &Error{Kind: KindNotFound, Reason: "material_type_not_found", Message: "耗材类型不存在"}
	ErrLeaseHeld            = &Error{Kind: KindConflict, Reason: "lease_held", Message: "记录正在被他人编辑"}
	ErrIllegalTransition    = &Error{Kind: KindConflict, Reason: "illegal_transition", Message: "不允许的状态变更"}
	ErrTasksUnfinished      = &Error{Kind: KindConflict, Reason: "tasks_unfinished", Message: "仍有未完成的打印任务"}
	ErrBatchesSold          = &Error{Kind: KindConflict, Reason: "batches_sold", Message: "工单已有售出的库存批次"}
	ErrOverProduction       = &Error{Kind: KindConflict, Reason: "over_production", Message: "产出数量超过计划数量"}
	ErrInsufficientQuantity = &Error{Kind: KindIntegrity, Reason: "insufficient_quantity", Message: "库存数量不足"}
	ErrLotNotFound          = &Error{Kind: KindIntegrity, Reason: "lot_not_found", Message: "耗材批次不存在"}
	ErrMachineNotFound      = &Error{Kind: KindIntegrity, Reason: "machine_not_found", Message: "打印机不存在"}
	ErrChannelNotFound      = &Error{Kind: KindIntegrity, Reason: "channel_not_found", Message: "收款渠道不存在"}
)

// withMessage 复制错误并替换说明
func withMessage(base *Error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    base.Kind,
		Reason:  base.Reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func invalid(format string, args ...interface{}) *Error {
	return withMessage(ErrInvalidInput, format, args...)
}

func illegal(format string, args ...interface{}) *Error {
	return withMessage(ErrIllegalTransition, format, args...)
}

// leaseHeld 租约冲突，带上持有人
func leaseHeld(holder string) *Error {
	return &Error{
		Kind:    ErrLeaseHeld.Kind,
		Reason:  ErrLeaseHeld.Reason,
		Message: fmt.Sprintf("记录正在被 %s 编辑", holder),
		Holder:  holder,
	}
}

// lookup 把仓库的 ErrNotFound 转成业务错误，其他错误原样包装
func lookup(err error, notFound *Error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("查询%s失败: %w", what, err)
}

// AsError 取出业务错误
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
