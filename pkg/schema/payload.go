package schema

// Payload 是通过Schema校验后的对象，只能由Validate/Decode产生。
// 传输层和endpoint处理函数只接受Payload
type Payload struct {
	obj *Object
}

// Object 返回负载内容的拷贝
func (p Payload) Object() *Object {
	return p.obj.Clone()
}

// With 返回设置了额外字段的新负载，用于传输层附加的标记（如broadcast）
func (p Payload) With(key string, value any) Payload {
	return Payload{obj: p.obj.Clone().Put(key, value)}
}

// Get 获取字段
func (p Payload) Get(key string) (any, bool) { return p.obj.Get(key) }

// Has 字段是否存在
func (p Payload) Has(key string) bool { return p.obj.Has(key) }

// Keys 字段名列表
func (p Payload) Keys() []string { return p.obj.Keys() }

// GetString 读取字符串字段
func (p Payload) GetString(key string) string { return p.obj.GetString(key) }

// GetBool 读取布尔字段
func (p Payload) GetBool(key string) bool { return p.obj.GetBool(key) }

// GetFloat 读取数值字段
func (p Payload) GetFloat(key string) float64 { return p.obj.GetFloat(key) }

// GetInt 读取整数字段
func (p Payload) GetInt(key string) int64 { return p.obj.GetInt(key) }

// GetBytes 读取二进制字段
func (p Payload) GetBytes(key string) []byte { return p.obj.GetBytes(key) }

// GetObject 读取嵌套对象
func (p Payload) GetObject(key string) *Object { return p.obj.GetObject(key) }

// GetList 读取列表字段
func (p Payload) GetList(key string) []any { return p.obj.GetList(key) }

// GetStrings 读取字符串列表
func (p Payload) GetStrings(key string) []string { return p.obj.GetStrings(key) }

// MarshalJSON 编码为校验后的JSON形式
func (p Payload) MarshalJSON() ([]byte, error) {
	return p.obj.MarshalJSON()
}

// String 返回JSON形式
func (p Payload) String() string {
	return p.obj.String()
}

// Empty 返回空负载，等价于按空Schema校验空对象
func Empty() Payload {
	return Payload{obj: New()}
}
