package errs

import (
	"fmt"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// 错误码分段：401xx 握手/鉴权（对连接致命），400xx 参数校验（scoped），
// 502xx 上游调用失败（scoped），503xx broker/bus（只记日志，不回传请求方）。
const (
	CodeAuthFailed      = 40101
	CodeValidation      = 40001
	CodeUpstreamFailed  = 50201
	CodeBrokerUnavail   = 50301
	CodeBadEventPayload = 50302
)

var (
	// ErrAuthFailed 对客户端刻意保持笼统，不区分缺失/过期/签名错误。
	ErrAuthFailed     = NewCodeError(CodeAuthFailed, "authentication error")
	ErrValidation     = NewCodeError(CodeValidation, "validation error")
	ErrUpstreamFailed = NewCodeError(CodeUpstreamFailed, "upstream request failed")
	ErrBrokerUnavail  = NewCodeError(CodeBrokerUnavail, "broker unavailable")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{Code: code, Msg: msg}
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
}

// WrapMsg 追加 detail 并带上堆栈。
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerr.WithStack(retErr)
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Unwrap 一直剥到最里层。
func Unwrap(err error) error {
	for err != nil {
		unwrap, ok := err.(interface {
			error
			Unwrap() error
		})
		if !ok {
			break
		}
		err = unwrap.Unwrap()
		if err == nil {
			return unwrap
		}
	}
	return err
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(pkgerr.WithMessage(err, toString(msg, kv)))
}

// AsCodeError 从错误链中提取 CodeError；失败时返回 nil。
func AsCodeError(err error) *CodeError {
	if err == nil {
		return nil
	}
	inner := Unwrap(err)
	if ce, ok := inner.(*CodeError); ok {
		return ce
	}
	if ce, ok := any(inner).(CodeError); ok {
		return &ce
	}
	return nil
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		sb.WriteString(" ")
		sb.WriteString(toStr(kv[i]))
		sb.WriteString("=")
		sb.WriteString(toStr(kv[i+1]))
	}
	return sb.String()
}

func toStr(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
