package fabric

import (
	"context"
	"sync"
	"sync/atomic"

	"fabric-node/pkg/model"
	"fabric-node/pkg/transport"
)

type rpcServer struct {
	network *Network
	id      string
	srv     *transport.Server
	handler atomic.Pointer[model.Handler]

	mu     sync.Mutex
	routes []string
}

func (s *rpcServer) OnRequest(h model.Handler) {
	s.handler.Store(&h)
}

// Bind announces route at this listener's bound address.
func (s *rpcServer) Bind(route string) error {
	s.mu.Lock()
	s.routes = append(s.routes, route)
	s.mu.Unlock()
	s.network.announce(route, s.Address())
	return nil
}

func (s *rpcServer) Address() string {
	return s.srv.Addr()
}

func (s *rpcServer) Close() error {
	return s.srv.Close()
}

// Routes lists every route bound on this listener.
func (s *rpcServer) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.routes...)
}

type result struct {
	payload any
	err     error
}

// serve hands the request to the installed handler and waits for its reply.
// A handler that never replies holds the connection until shutdown.
func (s *rpcServer) serve(ctx context.Context, env *transport.Envelope) (any, error) {
	if env.Request == nil {
		return nil, model.Failuref(400, "missing request")
	}
	h := s.handler.Load()
	if h == nil {
		return nil, model.Failuref(503, "no handler installed")
	}
	done := make(chan result, 1)
	(*h)(env.Request, func(err error, payload any) {
		select {
		case done <- result{payload: payload, err: err}:
		default:
		}
	})
	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
