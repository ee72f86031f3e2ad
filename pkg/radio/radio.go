// Package radio is the fabric's publish/subscribe channel: an HQ-side
// websocket hub and the node-side client handed to modules.
package radio

import (
	"errors"
	"strings"

	"fabric-node/pkg/endpoint"
)

// Message types on the wire.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypeMessage     = "message"
)

// Path is where the hub accepts websocket connections.
const Path = "/radio"

// ErrOffline is returned when publishing without a live connection.
var ErrOffline = errors.New("radio offline")

// Message is the envelope for every radio frame.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Payload any    `json:"payload,omitempty"`
}

// Radio is the pub/sub handle modules receive.
type Radio interface {
	Publish(channel string, payload any) error
	Subscribe(channel string, fn func(payload any)) (cancel func())
}

// URL converts a tcp://host:port radio endpoint into the hub's websocket URL.
func URL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + endpoint.HostPort(address) + Path
}
