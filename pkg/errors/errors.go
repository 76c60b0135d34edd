package errors

import (
	"errors"
	"fmt"

	"tradewire/pkg/errors/ecode"
)

// 带错误码的error封装，response层通过DecodeErr还原code和message

type CodedError struct {
	Code    int
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CodedError) Unwrap() error {
	return e.Err
}

// New 创建一个带码错误
func New(code int, message string) error {
	if message == "" {
		message = ecode.Message(code)
	}
	return &CodedError{Code: code, Message: message}
}

// Wrap 包装已有错误并附加错误码
func Wrap(err error, code int, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = ecode.Message(code)
	}
	return &CodedError{Code: code, Message: message, Err: err}
}

// DecodeErr 解出错误码和提示信息，nil视为成功
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, "OK"
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, ce.Message
	}
	return ecode.InternalErr, err.Error()
}

// Is 透传标准库判断
func Is(err, target error) bool {
	return errors.Is(err, target)
}
