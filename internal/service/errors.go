package service

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别，调用方据此决定响应
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindAuthorization ErrorKind = "authorization"
	KindPersistence   ErrorKind = "persistence"
)

// Error 带类别的业务错误。Message 面向用户，Err 为底层原因。
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is 类别哨兵（Message 为空）按类别匹配，其余按同一实例匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" && t.Err == nil {
		return e.Kind == t.Kind
	}
	return e == t
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// 类别哨兵，用于 errors.Is(err, ErrConflict)
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrPersistence   = &Error{Kind: KindPersistence}
)

var (
	ErrInvalidSubjectID  = newError(KindValidation, "无效的用户或服务器 ID")
	ErrInvalidSubject    = newError(KindValidation, "无效的授权对象类型")
	ErrInvalidDuration   = newError(KindValidation, "授予时长必须大于 0")
	ErrInvalidProof      = newError(KindValidation, "付款凭证必须是 http(s) 链接")
	ErrSameGuild         = newError(KindValidation, "不能转移到同一个服务器")
	ErrUploadUnavailable = newError(KindValidation, "未配置凭证上传")

	ErrPlanNotFound        = newError(KindNotFound, "套餐不存在")
	ErrTransactionNotFound = newError(KindNotFound, "交易不存在")

	ErrGuildAlreadyPremium   = newError(KindConflict, "该服务器已是高级会员")
	ErrGuildNotPremium       = newError(KindConflict, "该服务器不是高级会员")
	ErrUserNotPremium        = newError(KindConflict, "你还不是高级会员")
	ErrTransactionNotPending = newError(KindConflict, "交易不是待付款状态")
	ErrTransactionNotReview  = newError(KindConflict, "交易不是待审核状态")
	ErrLifetimeTransfer      = newError(KindConflict, "永久会员不支持转移")
	ErrTransferInProgress    = newError(KindConflict, "该服务器正在进行其他转移")
	ErrSourceChanged         = newError(KindConflict, "源服务器的会员状态已变化")

	ErrNotTransactionOwner = newError(KindAuthorization, "只有下单用户可以提交凭证")
	ErrNotGrantor          = newError(KindAuthorization, "只有授予者可以执行此操作")
)

// persistence 包装存储层错误
func persistence(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindPersistence, Err: err}
}

// KindOf 返回错误类别，非业务错误视为存储错误
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}
