// Package fabric is the node's connection to the rest of the fabric: RPC
// listeners that announce their routes to HQ, a proxy that reaches whichever
// node serves a url, the reception pipe into HQ, and the radio.
package fabric

import (
	"fabric-node/pkg/model"
	"fabric-node/pkg/radio"
)

// Descriptor configures a new RPC listener.
type Descriptor struct {
	ID      string
	Address string
}

// Server is one RPC listener. Requests arrive on the OnRequest callback;
// Bind makes a route reachable through HQ.
type Server interface {
	OnRequest(h model.Handler)
	Bind(route string) error
	Address() string
	Close() error
}

// Client is what a node needs from the fabric.
type Client interface {
	RPCServer(d Descriptor) (Server, error)
	RPCProxy() model.Handler
	Radio() radio.Radio
	Reception() model.Handler
	Close() error
}
