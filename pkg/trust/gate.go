// Package trust splits traffic bound for the directory service into
// external requests, which arrive from the network and are rebuilt from a
// fixed field whitelist, and internal requests, which originate from code
// this process compiled and are flagged as privileged.
//
// Only External may be handed to anything that accepts network input.
// Internal is reachable solely through the supplychain given to compiled
// modules; a request carrying Internal=true at the directory therefore came
// from in-process code.
package trust

import "fabric-node/pkg/model"

// Gate funnels both paths into one outbound pipe.
type Gate struct {
	pipe model.Handler
}

// New builds a gate around the pipe that delivers requests to the directory.
func New(pipe model.Handler) *Gate {
	return &Gate{pipe: pipe}
}

// External forwards a network-originated request. Only method, url, headers
// and body are copied; every other field, including Internal, is dropped.
func (g *Gate) External(req *model.Request, reply model.Reply) {
	clean := &model.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: copyHeaders(req.Headers),
		Body:    req.Body,
	}
	g.pipe(clean, reply)
}

// Internal forwards a request from trusted in-process code with the
// privilege flag set, whatever its prior value.
func (g *Gate) Internal(req *model.Request, reply model.Reply) {
	req.Internal = true
	g.pipe(req, reply)
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
