package common

import "errors"

// CodePaused is reported by Code for ErrModulePaused.
const CodePaused = "MODULE_PAUSED"

// Error is a module failure carrying a short machine-checkable reason code
// next to the human readable message. Two errors match under errors.Is when
// module and code agree, so wrapped sentinels keep matching.
type Error struct {
	Module  string
	Code    string
	Message string
}

// NewError builds a reason-coded error for module.
func NewError(module, code, message string) *Error {
	return &Error{Module: module, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Module == "" {
		return e.Message
	}
	return e.Module + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// Code returns the reason code carried by err or an empty string when err is
// not reason-coded.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrModulePaused) {
		return CodePaused
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
