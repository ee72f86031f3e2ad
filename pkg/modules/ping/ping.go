// Package ping is a built-in module that mounts a liveness route.
package ping

import (
	"time"

	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
)

const Name = "ping"

// Ping answers every request on its route with the node's identity.
type Ping struct {
	ID    string
	Route string
	start time.Time
}

// Status is the reply payload.
type Status struct {
	ID     string `json:"id" cbor:"id"`
	Route  string `json:"route" cbor:"route"`
	Uptime string `json:"uptime" cbor:"uptime"`
}

func Factory(cfg module.Config, sc module.Supplychain) (module.Instance, error) {
	p := &Ping{ID: cfg.String(module.KeyID), Route: cfg.String("route"), start: time.Now()}
	if p.Route == "" {
		p.Route = "/ping"
	}
	if err := sc.MountServer(p.Route, cfg.String("address"), p.serve); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Ping) serve(_ *model.Request, reply model.Reply, _ func()) {
	reply(nil, Status{
		ID:     p.ID,
		Route:  p.Route,
		Uptime: time.Since(p.start).Round(time.Second).String(),
	})
}
