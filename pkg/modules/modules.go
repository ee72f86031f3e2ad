// Package modules registers the built-in modules a node ships with.
package modules

import (
	"fabric-node/pkg/module"
	"fabric-node/pkg/modules/ping"
	"fabric-node/pkg/modules/relay"
	"fabric-node/pkg/modules/warehouse"
)

// Register adds every built-in to b.
func Register(b *module.Builtins) error {
	for name, f := range map[string]module.Factory{
		ping.Name:      ping.Factory,
		warehouse.Name: warehouse.Factory,
		relay.Name:     relay.Factory,
	} {
		if err := b.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}

// Builtins returns a registry holding every built-in.
func Builtins() *module.Builtins {
	b := module.NewBuiltins()
	if err := Register(b); err != nil {
		panic(err)
	}
	return b
}
