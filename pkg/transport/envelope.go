// Package transport is the fabric's request/response wire: one CBOR
// envelope per TCP connection, answered by one CBOR response.
package transport

import (
	"fabric-node/pkg/codec"
	"fabric-node/pkg/model"
)

// Actions understood on the wire.
const (
	ActionRequest   = "request"   // dispatch into a node's route table
	ActionReception = "reception" // HQ: route a request to whichever node serves it
	ActionAnnounce  = "announce"  // HQ: record that a node serves a route
	ActionLookup    = "lookup"    // HQ: find the node serving a url
	ActionJoin      = "join"      // HQ: exchange the join secret for a node token
	ActionWithdraw  = "withdraw"  // HQ: drop every route a node announced
)

// Envelope is the single request frame sent on a connection.
type Envelope struct {
	Action       string              `cbor:"action"`
	Token        string              `cbor:"token,omitempty"`
	Request      *model.Request      `cbor:"request,omitempty"`
	Announcement *model.Announcement `cbor:"announcement,omitempty"`
	Route        string              `cbor:"route,omitempty"`
	Join         *Join               `cbor:"join,omitempty"`
	NodeID       string              `cbor:"nodeId,omitempty"`
}

// Join carries a node's credentials when it asks HQ for a token.
type Join struct {
	NodeID string `cbor:"nodeId"`
	Secret string `cbor:"secret"`
}

// Response is the single reply frame. Error uses the "<code>:<message>"
// convention of model.Failure.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}
