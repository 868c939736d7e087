package channel

import (
	"errors"
	"fmt"
)

// ErrorCode типизированный код ошибки управляющих вызовов канала
type ErrorCode int

const (
	ErrorCodeChannelClosed ErrorCode = iota + 1000
	ErrorCodeInvalidConfig
	ErrorCodeInvalidDigit
	ErrorCodeBindFailed
	ErrorCodeFileOpen
	ErrorCodeUnsupportedCodec
	ErrorCodeNotMixed
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeChannelClosed:
		return "ChannelClosed"
	case ErrorCodeInvalidConfig:
		return "InvalidConfig"
	case ErrorCodeInvalidDigit:
		return "InvalidDigit"
	case ErrorCodeBindFailed:
		return "BindFailed"
	case ErrorCodeFileOpen:
		return "FileOpen"
	case ErrorCodeUnsupportedCodec:
		return "UnsupportedCodec"
	case ErrorCodeNotMixed:
		return "NotMixed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// ChannelError ошибка управляющего вызова канала.
// errors.Is сравнивает ошибки по коду, поэтому с ней работают sentinel
// значения ErrChannelClosed и другие.
type ChannelError struct {
	Code      ErrorCode
	Message   string
	ChannelID string
	Wrapped   error
}

// Error реализует интерфейс error
func (e *ChannelError) Error() string {
	msg := e.Message
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	if e.ChannelID != "" {
		return fmt.Sprintf("[канал:%s] %s: %s", e.Code, e.ChannelID, msg)
	}
	return fmt.Sprintf("[канал:%s] %s", e.Code, msg)
}

// Unwrap возвращает обернутую ошибку
func (e *ChannelError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *ChannelError) Is(target error) bool {
	var t *ChannelError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel ошибки для errors.Is
var (
	ErrChannelClosed    = &ChannelError{Code: ErrorCodeChannelClosed, Message: "канал закрыт"}
	ErrInvalidConfig    = &ChannelError{Code: ErrorCodeInvalidConfig, Message: "некорректная конфигурация"}
	ErrInvalidDigit     = &ChannelError{Code: ErrorCodeInvalidDigit, Message: "недопустимая DTMF цифра"}
	ErrBindFailed       = &ChannelError{Code: ErrorCodeBindFailed, Message: "не удалось занять локальный порт"}
	ErrFileOpen         = &ChannelError{Code: ErrorCodeFileOpen, Message: "не удалось открыть файл"}
	ErrUnsupportedCodec = &ChannelError{Code: ErrorCodeUnsupportedCodec, Message: "кодек не поддерживается"}
	ErrNotMixed         = &ChannelError{Code: ErrorCodeNotMixed, Message: "каналы не смешаны"}
)

func newError(code ErrorCode, channelID, message string, wrapped error) *ChannelError {
	return &ChannelError{
		Code:      code,
		Message:   message,
		ChannelID: channelID,
		Wrapped:   wrapped,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code ErrorCode) bool {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Code == code
	}
	return false
}
