package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidReference 投递目标引用格式错误或类型未知
	ErrInvalidReference = errors.New("invalid endpoint reference")
	// ErrValidationFailed 路由未通过校验
	ErrValidationFailed = errors.New("validation failed")
	// ErrRecordInvalid 附加投递目标无法保存，整个提交被回滚
	ErrRecordInvalid = errors.New("record invalid")
)

// InvalidReferenceError 引用解析失败
type InvalidReferenceError struct {
	Value string
	Kind  string
}

func (e *InvalidReferenceError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("invalid endpoint class name '%s'", e.Kind)
	}
	return fmt.Sprintf("invalid endpoint reference '%s'", e.Value)
}

// Is 使 errors.Is(err, ErrInvalidReference) 成立
func (e *InvalidReferenceError) Is(target error) bool {
	return target == ErrInvalidReference
}

// FieldBase 聚合级错误的字段名
const FieldBase = "base"

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == FieldBase {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// ValidationErrors 收集全部校验错误，不在第一个错误处停止
type ValidationErrors []FieldError

// Add 追加一个字段错误
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// Empty 是否没有错误
func (v ValidationErrors) Empty() bool {
	return len(v) == 0
}

// On 返回指定字段上的全部错误信息
func (v ValidationErrors) On(field string) []string {
	var out []string
	for _, fe := range v {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

// FullMessages 返回全部可读错误信息
func (v ValidationErrors) FullMessages() []string {
	out := make([]string, 0, len(v))
	for _, fe := range v {
		out = append(out, fe.String())
	}
	return out
}

func (v ValidationErrors) Error() string {
	return "validation failed: " + strings.Join(v.FullMessages(), "; ")
}

// Is 使 errors.Is(err, ErrValidationFailed) 成立
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidationFailed
}

// RecordInvalidError 调和附加投递目标时发现无效记录
type RecordInvalidError struct {
	Errors ValidationErrors
}

func (e *RecordInvalidError) Error() string {
	return "record invalid: " + strings.Join(e.Errors.FullMessages(), "; ")
}

// Is 同时匹配 ErrRecordInvalid 与 ErrValidationFailed
func (e *RecordInvalidError) Is(target error) bool {
	return target == ErrRecordInvalid || target == ErrValidationFailed
}

// Unwrap 返回聚合的校验错误
func (e *RecordInvalidError) Unwrap() error {
	return e.Errors
}
