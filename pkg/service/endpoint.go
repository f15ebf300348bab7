package service

import (
	"context"
	"sort"

	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
)

// 内置endpoint名称
const (
	EndpointPing         = ""
	EndpointInfo         = "info"
	EndpointSvcEvent     = "svc_event"
	EndpointRegisterPing = "register_ping"
)

// BroadcastField 传输层附加在每个负载上的广播标记
const BroadcastField = "broadcast"

// Handler 处理一次已校验的调用
type Handler func(ctx context.Context, p schema.Payload) result.Result[*schema.Object]

// Endpoint 由输入Schema和处理函数组成
type Endpoint struct {
	Schema  schema.Schema
	Handler Handler
}

// Endpoints 按名称索引的endpoint集合
type Endpoints map[string]Endpoint

// augment 在用户处理函数的结果上追加内置字段
type augment func(ctx context.Context, p schema.Payload, out *schema.Object) result.Result[*schema.Object]

type builtinEndpoint struct {
	schema schema.Schema
	fn     augment
}

var registerPingSchema = schema.Schema{
	"isCacheDirty": schema.Default(schema.Boolean(), false),
}

// chain 先执行用户处理函数，成功后再执行内置逻辑。两者的Schema合并，内置字段优先
func chain(user Endpoint, hasUser bool, s schema.Schema, builtin augment) Endpoint {
	merged := schema.Schema{}
	if hasUser {
		for k, v := range user.Schema {
			merged[k] = v
		}
	}
	for k, v := range s {
		merged[k] = v
	}

	return Endpoint{
		Schema: merged,
		Handler: func(ctx context.Context, p schema.Payload) result.Result[*schema.Object] {
			out := schema.New()
			if hasUser && user.Handler != nil {
				res := user.Handler(ctx, p)
				if res.IsError() {
					return res
				}
				if obj := res.Unwrap(); obj != nil {
					out = obj
				}
			}
			return builtin(ctx, p, out)
		},
	}
}

// buildEndpoints 合并用户endpoint和内置endpoint
func (s *Service) buildEndpoints(user Endpoints) Endpoints {
	out := make(Endpoints, len(user)+4)
	for name, ep := range user {
		out[name] = ep
	}

	builtins := map[string]builtinEndpoint{
		EndpointPing: {schema.Schema{}, s.ping},
		EndpointInfo: {schema.Schema{}, s.info},
	}
	if s.cfg.Register {
		builtins[EndpointSvcEvent] = builtinEndpoint{model.EventSchema, s.svcEvent}
		builtins[EndpointRegisterPing] = builtinEndpoint{registerPingSchema, s.registerPing}
	}

	for name, b := range builtins {
		userEp, ok := user[name]
		out[name] = chain(userEp, ok, b.schema, b.fn)
	}

	// info需要完整的endpoint列表
	s.endpointNames = make([]string, 0, len(out))
	for name := range out {
		s.endpointNames = append(s.endpointNames, name)
	}
	sort.Strings(s.endpointNames)

	return out
}

func (s *Service) ping(_ context.Context, _ schema.Payload, out *schema.Object) result.Result[*schema.Object] {
	return result.Ok(out.Put("status", "ok"))
}

func (s *Service) info(_ context.Context, _ schema.Payload, out *schema.Object) result.Result[*schema.Object] {
	tags := make([]string, len(s.cfg.Tags))
	copy(tags, s.cfg.Tags)
	names := make([]string, len(s.endpointNames))
	copy(names, s.endpointNames)

	return result.Ok(out.
		Put("id", s.cfg.ID.String()).
		Put("name", s.cfg.Name).
		Put("tags", tags).
		Put("endpoints", names))
}

func (s *Service) svcEvent(_ context.Context, p schema.Payload, out *schema.Object) result.Result[*schema.Object] {
	event, err := model.EventFromPayload(p)
	if err != nil {
		return result.Error[*schema.Object](err.Error())
	}
	s.applyEvent(event)
	return result.Ok(out)
}

func (s *Service) registerPing(_ context.Context, p schema.Payload, out *schema.Object) result.Result[*schema.Object] {
	if p.GetBool("isCacheDirty") {
		s.cache.MarkDirty()
		go s.refresh(context.Background())
	}
	return result.Ok(out.Put("status", "ok"))
}
