package registry

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hewenyu/meshlite/pkg/model"
	"github.com/hewenyu/meshlite/pkg/result"
	"github.com/hewenyu/meshlite/pkg/schema"
	"github.com/hewenyu/meshlite/pkg/service"
)

// removeSchema 只需要ID，完整的ServiceEntry也可以通过校验
var removeSchema = schema.Schema{
	"id": schema.String(),
}

func (r *Registry) endpoints() service.Endpoints {
	return service.Endpoints{
		"get": {
			Schema:  schema.Schema{},
			Handler: r.handleGet,
		},
		"add": {
			Schema:  model.EntrySchema,
			Handler: r.handleAdd,
		},
		"remove": {
			Schema:  removeSchema,
			Handler: r.handleRemove,
		},
	}
}

func servicesResult(entries []model.ServiceEntry) result.Result[*schema.Object] {
	return result.Ok(schema.New().Put("services", model.EntriesToList(entries)))
}

func (r *Registry) handleGet(_ context.Context, _ schema.Payload) result.Result[*schema.Object] {
	return servicesResult(r.Services())
}

func (r *Registry) handleAdd(_ context.Context, p schema.Payload) result.Result[*schema.Object] {
	entry, err := model.EntryFromPayload(p)
	if err != nil {
		return result.Error[*schema.Object](err.Error())
	}
	if entry.Address == "" {
		return result.Error[*schema.Object]("address is required")
	}

	services, err := r.Add(entry)
	if errors.Is(err, ErrAlreadyRegistered) {
		return result.Error[*schema.Object]("already registered")
	}
	if err != nil {
		return result.Error[*schema.Object](err.Error())
	}
	return servicesResult(services)
}

func (r *Registry) handleRemove(_ context.Context, p schema.Payload) result.Result[*schema.Object] {
	id, err := uuid.Parse(p.GetString("id"))
	if err != nil {
		return result.Errorf[*schema.Object]("invalid id %s", p.GetString("id"))
	}

	if err := r.Remove(id); errors.Is(err, ErrNotFound) {
		return result.Error[*schema.Object]("not found")
	} else if err != nil {
		return result.Error[*schema.Object](err.Error())
	}
	return result.Ok(schema.New())
}
