package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind 是错误分类。
type Kind int

const (
	KindUnknown             Kind = iota
	KindTransientIO              // 网络/超时，带退避重试
	KindAuthExpired              // 凭证过期，刷新一次后重试
	KindCursorExpired            // 历史窗口过期，转为有限的未读扫描
	KindExtraction               // 单个部件解码失败，不影响整封邮件
	KindPartialStorage           // 部分附件未保存，记录带标记写入
	KindPermanentValidation      // 邮件结构非法，记录后跳过，不重试
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindTransientIO:         "transient_io",
	KindAuthExpired:         "auth_expired",
	KindCursorExpired:       "cursor_expired",
	KindExtraction:          "extraction",
	KindPartialStorage:      "partial_storage",
	KindPermanentValidation: "permanent_validation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText 以名称序列化
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 从名称解析
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// Error 是带分类的错误。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按分类匹配，使 errors.Is(err, ErrCursorExpired) 对任何同类错误成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// 分类哨兵错误
var (
	ErrTransientIO         = &Error{Kind: KindTransientIO}
	ErrAuthExpired         = &Error{Kind: KindAuthExpired}
	ErrCursorExpired       = &Error{Kind: KindCursorExpired}
	ErrExtraction          = &Error{Kind: KindExtraction}
	ErrPartialStorage      = &Error{Kind: KindPartialStorage}
	ErrPermanentValidation = &Error{Kind: KindPermanentValidation}
)

// NewError 创建带分类的错误
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient 包装为可重试错误
func Transient(op string, err error) error {
	return NewError(KindTransientIO, op, err)
}

// Permanent 包装为不可重试的校验错误
func Permanent(op string, err error) error {
	return NewError(KindPermanentValidation, op, err)
}

// KindOf 返回错误的分类。
// 未分类的 context 超时视为 TransientIO，其余为 KindUnknown。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientIO
	}
	return KindUnknown
}

// IsRetryable 判断错误是否值得在同一阶段内重试
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientIO
}
