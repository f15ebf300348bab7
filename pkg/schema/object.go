package schema

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Object 是有序的动态对象，由业务代码通过Put构建，
// 只有在通过Schema校验后才能被传输或处理
type Object struct {
	keys   []string
	values map[string]any
}

// New 创建一个空对象
func New() *Object {
	return &Object{values: make(map[string]any)}
}

// FromMap 从map创建对象，字段按名称排序
func FromMap(m map[string]any) *Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	o := New()
	for _, k := range keys {
		o.Put(k, m[k])
	}
	return o
}

// Put 设置字段，已存在的字段保持原有位置
func (o *Object) Put(key string, value any) *Object {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get 获取字段
func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Has 字段是否存在
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete 删除字段
func (o *Object) Delete(key string) {
	if o == nil {
		return
	}
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys 返回按插入顺序排列的字段名
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len 字段数量
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Clone 浅拷贝
func (o *Object) Clone() *Object {
	out := New()
	if o == nil {
		return out
	}
	for _, k := range o.keys {
		out.Put(k, o.values[k])
	}
	return out
}

// GetString 读取字符串字段，不存在或类型不符时返回空串
func (o *Object) GetString(key string) string {
	v, _ := o.Get(key)
	s, _ := v.(string)
	return s
}

// GetBool 读取布尔字段
func (o *Object) GetBool(key string) bool {
	v, _ := o.Get(key)
	b, _ := v.(bool)
	return b
}

// GetFloat 读取数值字段
func (o *Object) GetFloat(key string) float64 {
	v, _ := o.Get(key)
	n, ok := toNumber(v)
	if !ok {
		return 0
	}
	f, _ := n.Float64()
	return f
}

// GetInt 读取整数字段，小数会被截断
func (o *Object) GetInt(key string) int64 {
	v, _ := o.Get(key)
	n, ok := toNumber(v)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return int64(f)
}

// GetBytes 读取二进制字段，兼容base64字符串形式
func (o *Object) GetBytes(key string) []byte {
	v, _ := o.Get(key)
	switch d := v.(type) {
	case []byte:
		return d
	case string:
		out, err := base64.StdEncoding.DecodeString(d)
		if err != nil {
			return nil
		}
		return out
	}
	return nil
}

// GetObject 读取嵌套对象
func (o *Object) GetObject(key string) *Object {
	v, _ := o.Get(key)
	obj, _ := toObject(v)
	return obj
}

// GetList 读取列表字段
func (o *Object) GetList(key string) []any {
	v, _ := o.Get(key)
	items, _ := toList(v)
	return items
}

// GetStrings 读取字符串列表，忽略非字符串元素
func (o *Object) GetStrings(key string) []string {
	items := o.GetList(key)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// MarshalJSON 按插入顺序编码
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if o != nil {
		for i, k := range o.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')

			value, err := json.Marshal(o.values[k])
			if err != nil {
				return nil, fmt.Errorf("序列化字段 %s 失败: %w", k, err)
			}
			buf.Write(value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按文档顺序解码，数值保留为json.Number，嵌套对象为*Object
func (o *Object) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("JSON对象后存在多余数据")
	}
	if v == nil {
		*o = Object{values: make(map[string]any)}
		return nil
	}

	obj, ok := v.(*Object)
	if !ok {
		return fmt.Errorf("期望JSON对象，实际为 %T", v)
	}
	*o = *obj
	return nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := New()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("无效的对象键: %v", keyTok)
			}
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Put(key, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil

	case '[':
		list := []any{}
		for dec.More() {
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	}

	return nil, fmt.Errorf("意外的分隔符: %v", delim)
}

// String 返回JSON形式，便于日志输出
func (o *Object) String() string {
	data, err := o.MarshalJSON()
	if err != nil {
		return "<invalid object>"
	}
	return string(data)
}
