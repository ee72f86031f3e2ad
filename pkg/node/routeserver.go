package node

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/fabric"
	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
	"fabric-node/pkg/router"
)

// RouteHeader carries the mounted route a request was dispatched to.
const RouteHeader = "x-supplier-route"

// routeServer is the builder's single listener and the router behind it.
// It is created by the first mount and lives as long as the builder.
type routeServer struct {
	mu        sync.Mutex
	requested string
	router    *router.Router
	server    fabric.Server
	routes    map[string]struct{}
}

// mountServer registers handler for route on the builder's listener,
// creating the listener on first use. address only counts on that first
// call.
func (b *Builder) mountServer(route, address string, handler module.RouteHandler) error {
	if handler == nil {
		return &FatalError{Op: "mount " + route, Err: ErrMissingHandler}
	}
	rs := &b.routes
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.server == nil {
		if address == "" {
			address = b.listenAddress()
		}
		r := router.New()
		srv, err := b.client.RPCServer(fabric.Descriptor{ID: uuid.NewString(), Address: address})
		if err != nil {
			return fatal("listen "+address, err)
		}
		srv.OnRequest(r.Dispatch)
		rs.requested = address
		rs.router = r
		rs.server = srv
		rs.routes = map[string]struct{}{}
		b.logger.Info("route server listening", "address", srv.Address())
	} else if address != "" && address != rs.requested && address != rs.server.Address() {
		b.logger.Warn("route server already listening, ignoring address",
			"route", route, "address", address, "listening", rs.server.Address())
	}

	mounted := route
	route = router.Normalize(route)
	prev, replaced := rs.router.Use(route, func(req *model.Request, reply model.Reply) {
		req.SetHeader(RouteHeader, mounted)
		handler(req, reply, func() {
			reply(model.NotFound, nil)
		})
	})
	if err := rs.server.Bind(route); err != nil {
		if replaced {
			rs.router.Use(route, prev)
		} else {
			rs.router.Remove(route)
		}
		return fatal("bind "+route, err)
	}
	rs.routes[route] = struct{}{}
	b.logger.Info("route mounted", "route", route)
	return nil
}

// listenAddress picks the first listener's address: the node port override
// if set, else the next allocated port.
func (b *Builder) listenAddress() string {
	host := endpoint.NodeHost(b.getenv)
	if port, ok := endpoint.NodePort(b.getenv); ok {
		return endpoint.Address(host, port)
	}
	return endpoint.Address(host, b.ports.Next())
}

// Address is the route server's bound address, or "" before the first mount.
func (b *Builder) Address() string {
	b.routes.mu.Lock()
	defer b.routes.mu.Unlock()
	if b.routes.server == nil {
		return ""
	}
	return b.routes.server.Address()
}

// Routes lists the mounted routes.
func (b *Builder) Routes() []string {
	b.routes.mu.Lock()
	defer b.routes.mu.Unlock()
	out := make([]string, 0, len(b.routes.routes))
	for r := range b.routes.routes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (b *Builder) closeRouteServer() error {
	b.routes.mu.Lock()
	defer b.routes.mu.Unlock()
	if b.routes.server == nil {
		return nil
	}
	return b.routes.server.Close()
}
