package result

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result 表示一次可能失败的操作的结果，只能是 Ok 或 Error 之一
type Result[T any] struct {
	value T
	err   string
	ok    bool
}

// wireResult 是 Result 在线路上的 JSON 形式
type wireResult struct {
	Ok    json.RawMessage `json:"ok,omitempty"`
	Error *string         `json:"error,omitempty"`
}

// Ok 创建成功结果
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Error 创建错误结果
func Error[T any](message string) Result[T] {
	return Result[T]{err: message}
}

// Errorf 使用格式化字符串创建错误结果
func Errorf[T any](format string, args ...any) Result[T] {
	return Error[T](fmt.Sprintf(format, args...))
}

// IsOk 是否为成功结果
func (r Result[T]) IsOk() bool {
	return r.ok
}

// IsError 是否为错误结果
func (r Result[T]) IsError() bool {
	return !r.ok
}

// Unwrap 返回成功值，对错误结果调用会panic
func (r Result[T]) Unwrap() T {
	if !r.ok {
		panic("result: Unwrap called on error result: " + r.err)
	}
	return r.value
}

// Err 返回错误信息，对成功结果调用会panic
func (r Result[T]) Err() string {
	if r.ok {
		panic("result: Err called on ok result")
	}
	return r.err
}

// UnwrapOr 返回成功值，错误时返回给定的默认值
func (r Result[T]) UnwrapOr(def T) T {
	if !r.ok {
		return def
	}
	return r.value
}

// AsError 将错误结果转换为error，成功结果返回nil
func (r Result[T]) AsError() error {
	if r.ok {
		return nil
	}
	return errors.New(r.err)
}

// String 实现fmt.Stringer
func (r Result[T]) String() string {
	if r.ok {
		return fmt.Sprintf("Ok(%v)", r.value)
	}
	return fmt.Sprintf("Error(%s)", r.err)
}

// MarshalJSON 编码为 {"ok": value} 或 {"error": message}
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if !r.ok {
		msg := r.err
		return json.Marshal(wireResult{Error: &msg})
	}

	data, err := json.Marshal(r.value)
	if err != nil {
		return nil, fmt.Errorf("序列化结果值失败: %w", err)
	}
	return json.Marshal(wireResult{Ok: data})
}

// UnmarshalJSON 解码线路形式，必须恰好包含 ok 或 error 之一
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("解析结果失败: %w", err)
	}

	okData, hasOk := raw["ok"]
	errData, hasErr := raw["error"]
	switch {
	case hasOk && hasErr:
		return errors.New("结果同时包含ok和error")
	case hasOk:
		var value T
		if err := json.Unmarshal(okData, &value); err != nil {
			return fmt.Errorf("解析结果值失败: %w", err)
		}
		*r = Ok(value)
	case hasErr:
		var msg string
		if err := json.Unmarshal(errData, &msg); err != nil {
			return fmt.Errorf("解析错误信息失败: %w", err)
		}
		*r = Error[T](msg)
	default:
		return errors.New("结果缺少ok或error")
	}

	return nil
}
