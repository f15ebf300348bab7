package registry

import (
	"context"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"

	imetrics "github.com/hewenyu/meshlite/internal/metrics"
	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/schema"
	"github.com/hewenyu/meshlite/pkg/service"
)

// delivery 一条待发送的svc_event
type delivery struct {
	event   model.ServiceEvent
	payload schema.Payload
}

// outbox 单个接收者的发送队列，同一接收者的通知按入队顺序逐条发送
type outbox struct {
	recipient model.ServiceEntry
	queue     []delivery
}

// notifyLocked 把变更放入每个接收者的队列，调用方持有r.mu，
// 入队顺序因此与成员表的修改顺序一致。发送在后台进行，
// 推送失败的接收者会在下次存活检查时被要求刷新缓存
func (r *Registry) notifyLocked(event model.EventType, entry model.ServiceEntry, recipients []model.ServiceEntry) {
	ev := model.ServiceEvent{Event: event, Service: entry}
	res := ev.ToObject().Validate(model.EventSchema)
	if res.IsError() {
		r.logger.Error("构造变更通知失败", zap.String("error", res.Err()))
		return
	}
	d := delivery{event: ev, payload: res.Unwrap().With(service.BroadcastField, true)}

	r.outboxMu.Lock()
	defer r.outboxMu.Unlock()
	for _, recipient := range recipients {
		ob, running := r.outboxes[recipient.ID]
		if !running {
			ob = &outbox{recipient: recipient}
			r.outboxes[recipient.ID] = ob
		}
		ob.queue = append(ob.queue, d)
		if !running {
			r.notifications.Add(1)
			go r.drain(ob)
		}
	}
}

// drain 依次发送队列中的通知，队列为空时退出
func (r *Registry) drain(ob *outbox) {
	defer r.notifications.Done()

	for {
		r.outboxMu.Lock()
		if len(ob.queue) == 0 {
			delete(r.outboxes, ob.recipient.ID)
			r.outboxMu.Unlock()
			return
		}
		d := ob.queue[0]
		ob.queue = ob.queue[1:]
		r.outboxMu.Unlock()

		r.deliver(ob.recipient, d)
	}
}

func (r *Registry) deliver(recipient model.ServiceEntry, d delivery) {
	out := r.requester.Do(context.Background(), recipient.Address, service.EndpointSvcEvent, d.payload)
	if out.IsOk() {
		return
	}

	r.sink.IncrCounterWithLabels(imetrics.MetricRegistryNotifyErrorCount, 1,
		[]metrics.Label{imetrics.L(imetrics.LabelService, recipient.Name)})
	r.logger.Warn("推送变更通知失败",
		zap.String("event", string(d.event.Event)),
		zap.String("service", d.event.Service.String()),
		zap.String("recipient", recipient.String()),
		zap.String("error", out.Err()),
	)
	r.markCacheDirty(recipient.ID)
}
