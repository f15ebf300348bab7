package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hewenyu/meshlite/pkg/result"
)

// Schema 描述一个对象的字段及其类型，字段名唯一
type Schema map[string]Element

// With 返回增加了一个字段的新Schema，原Schema不变
func (s Schema) With(name string, e Element) Schema {
	out := make(Schema, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[name] = e
	return out
}

// Validate 判断值是否满足Schema
func (s Schema) Validate(v any) bool {
	obj, ok := toObject(v)
	if !ok {
		return false
	}
	_, err := s.resolve(obj)
	return err == nil
}

// fieldNames 返回解析顺序：先按输入顺序，再按名称补齐缺失字段
func (s Schema) fieldNames(obj *Object) []string {
	names := make([]string, 0, len(s))
	seen := make(map[string]bool, len(s))
	for _, key := range obj.Keys() {
		if _, ok := s[key]; ok {
			names = append(names, key)
			seen[key] = true
		}
	}

	rest := make([]string, 0, len(s)-len(names))
	for name := range s {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append(names, rest...)
}

// resolve 校验对象并返回只包含Schema声明字段的规范化对象
func (s Schema) resolve(obj *Object) (*Object, error) {
	out := New()
	for _, name := range s.fieldNames(obj) {
		e := s[name]
		raw, present := obj.Get(name)
		if raw == nil {
			present = false
		}

		switch e.Kind {
		case KindOptional:
			if !present {
				continue
			}
		case KindDefault:
		default:
			if !present {
				return nil, fmt.Errorf("missing field %s", name)
			}
		}

		v, err := e.canonical(raw)
		if err != nil {
			var nested *nestedError
			if errors.As(err, &nested) {
				return nil, fmt.Errorf("%s: %s", name, nested.msg)
			}
			return nil, fmt.Errorf("field %s failed validation", name)
		}
		out.Put(name, v)
	}

	return out, nil
}

// Validate 按Schema校验对象，填充默认值并剔除未声明字段
func (o *Object) Validate(s Schema) result.Result[Payload] {
	if o == nil {
		o = New()
	}
	resolved, err := s.resolve(o)
	if err != nil {
		return result.Error[Payload](err.Error())
	}
	return result.Ok(Payload{obj: resolved})
}

// Validate 校验任意对象形式的值（*Object、Payload、map[string]any）
func Validate(v any, s Schema) result.Result[Payload] {
	obj, ok := toObject(v)
	if !ok {
		return result.Errorf[Payload]("value of type %T is not an object", v)
	}
	return obj.Validate(s)
}

// Decode 解析JSON文本并按Schema校验
func Decode(data []byte, s Schema) result.Result[Payload] {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return New().Validate(s)
	}

	obj := New()
	if err := json.Unmarshal(data, obj); err != nil {
		return result.Errorf[Payload]("malformed payload: %v", err)
	}
	return obj.Validate(s)
}
