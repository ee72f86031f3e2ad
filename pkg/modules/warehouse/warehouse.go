// Package warehouse is the built-in wrapper module. It compiles the
// application module named by its config and hosts the returned handler on
// a route, so application code only has to produce a handler.
package warehouse

import (
	"errors"
	"fmt"
	"path/filepath"

	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
)

const Name = "warehouse"

var (
	ErrNoApplication = errors.New("warehouse needs an application module")
	ErrNotHandler    = errors.New("application module did not return a handler")
)

// Servable is implemented by application instances that serve requests
// through a method.
type Servable interface {
	Serve(req *model.Request, reply model.Reply, notFound func())
}

// Warehouse hosts one application handler.
type Warehouse struct {
	ID          string
	Route       string
	Application module.Instance
}

func Factory(cfg module.Config, sc module.Supplychain) (module.Instance, error) {
	app := cfg.String(module.KeyCustomModule)
	if app == "" {
		return nil, ErrNoApplication
	}
	rel, err := filepath.Rel(sc.Filepath("."), app)
	if err != nil {
		return nil, fmt.Errorf("warehouse: %w", err)
	}
	id := cfg.String(module.KeyID)
	inst, err := sc.Build("./"+filepath.ToSlash(rel), module.ModuleConfig{ID: id, Settings: settings(cfg)})
	if err != nil {
		return nil, err
	}
	handler, err := asRouteHandler(inst)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", app, err)
	}

	w := &Warehouse{ID: id, Route: cfg.String("route"), Application: inst}
	if w.Route == "" {
		w.Route = "/" + id
	}
	if err := sc.MountServer(w.Route, cfg.String("address"), handler); err != nil {
		return nil, err
	}
	sc.Logger().Debug("warehouse hosting application", "route", w.Route, "module", app)
	return w, nil
}

// settings strips the keys the resolver and builder add so the application
// sees only caller settings.
func settings(cfg module.Config) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch k {
		case module.KeyID, module.KeyHQEndpoints, module.KeyCustomModule, module.KeySystemModule:
			continue
		}
		out[k] = v
	}
	return out
}

func asRouteHandler(inst module.Instance) (module.RouteHandler, error) {
	switch h := inst.(type) {
	case module.RouteHandler:
		return h, nil
	case func(*model.Request, model.Reply, func()):
		return h, nil
	case model.Handler:
		return func(req *model.Request, reply model.Reply, _ func()) { h(req, reply) }, nil
	case func(*model.Request, model.Reply):
		return func(req *model.Request, reply model.Reply, _ func()) { h(req, reply) }, nil
	case Servable:
		return h.Serve, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrNotHandler, inst)
	}
}
