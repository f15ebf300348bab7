package schema

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Kind 表示Schema元素的类型标签
type Kind int

const (
	KindBoolean Kind = iota + 1
	KindNumber
	KindString
	KindData
	KindList
	KindArray
	KindObject
	KindDefault
	KindOptional
)

var kindNames = map[Kind]string{
	KindBoolean:  "Boolean",
	KindNumber:   "Number",
	KindString:   "String",
	KindData:     "Data",
	KindList:     "List",
	KindArray:    "Array",
	KindObject:   "Object",
	KindDefault:  "Default",
	KindOptional: "Optional",
}

// String 返回类型名称
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Element 是Schema元素的标签联合
// Elem 用于 List/Array/Default/Optional，Size 用于 Array，
// Schema 用于 Object，Default 保存规范化后的默认值
type Element struct {
	Kind    Kind
	Elem    *Element
	Size    int
	Schema  Schema
	Default any
}

// Boolean 布尔类型
func Boolean() Element { return Element{Kind: KindBoolean} }

// Number 数值类型
func Number() Element { return Element{Kind: KindNumber} }

// String 字符串类型
func String() Element { return Element{Kind: KindString} }

// Data 二进制数据类型，线路上以base64字符串传输
func Data() Element { return Element{Kind: KindData} }

// List 任意长度的列表
func List(of Element) Element {
	return Element{Kind: KindList, Elem: &of}
}

// Array 固定长度的数组
func Array(of Element, size int) Element {
	return Element{Kind: KindArray, Elem: &of, Size: size}
}

// ObjectOf 嵌套对象
func ObjectOf(s Schema) Element {
	return Element{Kind: KindObject, Schema: s}
}

// Optional 可选字段，缺失时不出现在结果中
func Optional(inner Element) Element {
	return Element{Kind: KindOptional, Elem: &inner}
}

// Default 缺失时使用默认值填充的字段
// 默认值必须满足inner，否则panic
func Default(inner Element, value any) Element {
	v, err := inner.canonical(value)
	if err != nil {
		panic(fmt.Sprintf("schema: default value %v does not match %s", value, inner))
	}
	return Element{Kind: KindDefault, Elem: &inner, Default: v}
}

// String 返回元素的可读描述
func (e Element) String() string {
	switch e.Kind {
	case KindList, KindDefault, KindOptional:
		return fmt.Sprintf("%s<%s>", e.Kind, e.Elem)
	case KindArray:
		return fmt.Sprintf("Array<%s>[%d]", e.Elem, e.Size)
	default:
		return e.Kind.String()
	}
}

// IsValid 判断值是否满足元素
func IsValid(e Element, v any) bool {
	_, err := e.canonical(v)
	return err == nil
}

var errMismatch = errors.New("type mismatch")

// nestedError 表示嵌套对象内部的校验错误，需要加上外层字段名前缀
type nestedError struct {
	msg string
}

func (e *nestedError) Error() string { return e.msg }

// canonical 校验值并返回规范形式
// Number -> json.Number, Data -> []byte, List/Array -> []any, Object -> *Object
func (e Element) canonical(v any) (any, error) {
	switch e.Kind {
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, errMismatch

	case KindNumber:
		if n, ok := toNumber(v); ok {
			return n, nil
		}
		return nil, errMismatch

	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, errMismatch

	case KindData:
		switch d := v.(type) {
		case []byte:
			out := make([]byte, len(d))
			copy(out, d)
			return out, nil
		case string:
			out, err := base64.StdEncoding.DecodeString(d)
			if err != nil {
				return nil, errMismatch
			}
			return out, nil
		}
		return nil, errMismatch

	case KindList, KindArray:
		items, ok := toList(v)
		if !ok {
			return nil, errMismatch
		}
		if e.Kind == KindArray && len(items) != e.Size {
			return nil, errMismatch
		}
		out := make([]any, len(items))
		for i, item := range items {
			c, err := e.Elem.canonical(item)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil

	case KindObject:
		obj, ok := toObject(v)
		if !ok {
			return nil, errMismatch
		}
		resolved, err := e.Schema.resolve(obj)
		if err != nil {
			return nil, &nestedError{msg: err.Error()}
		}
		return resolved, nil

	case KindOptional:
		if v == nil {
			return nil, nil
		}
		return e.Elem.canonical(v)

	case KindDefault:
		if v == nil {
			v = e.Default
		}
		return e.Elem.canonical(v)
	}

	return nil, errMismatch
}

// toNumber 把各种数值表示转换为json.Number
func toNumber(v any) (json.Number, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return "", false
		}
		return n, true
	case int:
		return json.Number(strconv.FormatInt(int64(n), 10)), true
	case int8:
		return json.Number(strconv.FormatInt(int64(n), 10)), true
	case int16:
		return json.Number(strconv.FormatInt(int64(n), 10)), true
	case int32:
		return json.Number(strconv.FormatInt(int64(n), 10)), true
	case int64:
		return json.Number(strconv.FormatInt(n, 10)), true
	case uint:
		return json.Number(strconv.FormatUint(uint64(n), 10)), true
	case uint8:
		return json.Number(strconv.FormatUint(uint64(n), 10)), true
	case uint16:
		return json.Number(strconv.FormatUint(uint64(n), 10)), true
	case uint32:
		return json.Number(strconv.FormatUint(uint64(n), 10)), true
	case uint64:
		return json.Number(strconv.FormatUint(n, 10)), true
	case float32:
		return floatNumber(float64(n))
	case float64:
		return floatNumber(n)
	}
	return "", false
}

func floatNumber(f float64) (json.Number, bool) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64)), true
}

// toList 接受任意切片或数组（字符串除外）
func toList(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// toObject 接受 *Object、Payload 和 map[string]any
func toObject(v any) (*Object, bool) {
	switch o := v.(type) {
	case *Object:
		if o == nil {
			return nil, false
		}
		return o, true
	case Payload:
		if o.obj == nil {
			return New(), true
		}
		return o.obj, true
	case map[string]any:
		return FromMap(o), true
	}
	return nil, false
}
