// Package relay is a built-in module bridging a route and a radio channel:
// posts to the route are published, and gets return what the channel has
// carried recently.
package relay

import (
	"strings"
	"sync"

	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
)

const Name = "relay"

const defaultKeep = 50

type Relay struct {
	Route   string
	Channel string

	publish func(string, any) error
	cancel  func()

	mu   sync.Mutex
	keep int
	seen []any
}

func Factory(cfg module.Config, sc module.Supplychain) (module.Instance, error) {
	r := &Relay{
		Route:   cfg.String("route"),
		Channel: cfg.String("channel"),
		keep:    defaultKeep,
	}
	if r.Route == "" {
		r.Route = "/" + cfg.String(module.KeyID)
	}
	if r.Channel == "" {
		r.Channel = r.Route
	}
	if n := intSetting(cfg["keep"]); n > 0 {
		r.keep = n
	}
	rd := sc.Radio()
	r.publish = rd.Publish
	r.cancel = rd.Subscribe(r.Channel, r.record)
	if err := sc.MountServer(r.Route, cfg.String("address"), r.serve); err != nil {
		r.cancel()
		return nil, err
	}
	return r, nil
}

func (r *Relay) record(payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, payload)
	if len(r.seen) > r.keep {
		r.seen = r.seen[len(r.seen)-r.keep:]
	}
}

// Recent returns the retained channel messages, oldest first.
func (r *Relay) Recent() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.seen...)
}

func (r *Relay) serve(req *model.Request, reply model.Reply, notFound func()) {
	switch strings.ToLower(req.Method) {
	case "get", "":
		reply(nil, r.Recent())
	case "post", "put":
		if err := r.publish(r.Channel, req.Body); err != nil {
			reply(model.Failuref(503, "publish: %v", err), nil)
			return
		}
		reply(nil, map[string]any{"channel": r.Channel})
	default:
		notFound()
	}
}

// Close drops the channel subscription.
func (r *Relay) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// intSetting accepts the integer shapes yaml, toml and json decoders produce.
func intSetting(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
