package model

import (
	"fmt"

	"github.com/hewenyu/meshlite/pkg/schema"
)

// EventType 表示成员变更事件类型
type EventType string

const (
	// EventAdded 服务加入
	EventAdded EventType = "ADDED"
	// EventRemoved 服务移除
	EventRemoved EventType = "REMOVED"
)

// ServiceEvent 是注册中心推送给各服务的 svc_event 负载
type ServiceEvent struct {
	Event   EventType
	Service ServiceEntry
}

// EventSchema 是 svc_event 的Schema
var EventSchema = schema.Schema{
	"event":   schema.String(),
	"service": schema.ObjectOf(EntrySchema),
}

// ToObject 转换为动态对象
func (e ServiceEvent) ToObject() *schema.Object {
	return schema.New().
		Put("event", string(e.Event)).
		Put("service", e.Service.ToObject())
}

// EventFromPayload 解析已校验的 svc_event 负载
func EventFromPayload(p schema.Payload) (ServiceEvent, error) {
	ev := EventType(p.GetString("event"))
	if ev != EventAdded && ev != EventRemoved {
		return ServiceEvent{}, fmt.Errorf("unknown event %s", ev)
	}

	entry, err := EntryFromObject(p.GetObject("service"))
	if err != nil {
		return ServiceEvent{}, err
	}

	return ServiceEvent{Event: ev, Service: entry}, nil
}
