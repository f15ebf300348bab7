package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hewenyu/meshlite/pkg/schema"
)

// DefaultRegisterIntervalMs 注册中心检查服务存活的默认间隔（毫秒）
const DefaultRegisterIntervalMs uint64 = 60000

// ServiceEntry 表示注册中心中的一个服务实例
// ID 是唯一标识，Name 和 Tags 仅用于发现，可以被多个实例共享
type ServiceEntry struct {
	ID                 uuid.UUID         `json:"id"`                 // 服务实例唯一ID
	Name               string            `json:"name"`               // 服务名称
	Tags               []string          `json:"tags"`               // 服务标签
	Address            string            `json:"address"`            // host:port 或完整的基础URL
	Metadata           map[string]string `json:"metadata,omitempty"` // 服务元数据
	RegisterIntervalMs uint64            `json:"registerIntervalMs"` // 存活检查间隔(毫秒)
}

// EntrySchema 是ServiceEntry在RPC负载中的Schema
// 元数据以 [key, value] 二元组列表传输
var EntrySchema = schema.Schema{
	"id":                 schema.String(),
	"name":               schema.String(),
	"tags":               schema.Default(schema.List(schema.String()), []string{}),
	"address":            schema.String(),
	"metadata":           schema.Default(schema.List(schema.Array(schema.String(), 2)), []any{}),
	"registerIntervalMs": schema.Default(schema.Number(), DefaultRegisterIntervalMs),
}

// HasTag 是否包含指定标签
func (e ServiceEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// String 返回便于日志输出的描述
func (e ServiceEntry) String() string {
	return fmt.Sprintf("%s(%s)@%s", e.Name, e.ID, e.Address)
}

// ToObject 转换为动态对象
func (e ServiceEntry) ToObject() *schema.Object {
	tags := make([]string, len(e.Tags))
	copy(tags, e.Tags)

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	metadata := make([]any, 0, len(keys))
	for _, k := range keys {
		metadata = append(metadata, []any{k, e.Metadata[k]})
	}

	return schema.New().
		Put("id", e.ID.String()).
		Put("name", e.Name).
		Put("tags", tags).
		Put("address", e.Address).
		Put("metadata", metadata).
		Put("registerIntervalMs", e.RegisterIntervalMs)
}

// EntryFromObject 校验并解析动态对象
func EntryFromObject(obj *schema.Object) (ServiceEntry, error) {
	res := obj.Validate(EntrySchema)
	if res.IsError() {
		return ServiceEntry{}, fmt.Errorf("无效的服务信息: %s", res.Err())
	}
	return EntryFromPayload(res.Unwrap())
}

// EntryFromPayload 从已校验的负载解析ServiceEntry
func EntryFromPayload(p schema.Payload) (ServiceEntry, error) {
	id, err := uuid.Parse(p.GetString("id"))
	if err != nil {
		return ServiceEntry{}, fmt.Errorf("无效的服务ID: %w", err)
	}

	interval := p.GetInt("registerIntervalMs")
	if interval < 0 {
		return ServiceEntry{}, fmt.Errorf("无效的检查间隔: %d", interval)
	}

	entry := ServiceEntry{
		ID:                 id,
		Name:               p.GetString("name"),
		Tags:               p.GetStrings("tags"),
		Address:            strings.TrimSpace(p.GetString("address")),
		RegisterIntervalMs: uint64(interval),
	}

	for _, item := range p.GetList("metadata") {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		k, _ := pair[0].(string)
		v, _ := pair[1].(string)
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string)
		}
		entry.Metadata[k] = v
	}

	return entry, nil
}

// EntriesToList 把服务列表转换为可放入动态对象的列表
func EntriesToList(entries []ServiceEntry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ToObject())
	}
	return out
}

// EntriesFromList 解析动态对象中的服务列表
func EntriesFromList(items []any) ([]ServiceEntry, error) {
	out := make([]ServiceEntry, 0, len(items))
	for i, item := range items {
		obj, ok := item.(*schema.Object)
		if !ok {
			return nil, fmt.Errorf("第%d个服务不是对象", i)
		}
		entry, err := EntryFromObject(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}
