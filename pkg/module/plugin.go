//go:build (linux || darwin) && cgo

package module

import (
	"fmt"
	"plugin"
)

// openPlugin loads a Go plugin and returns its exported Factory.
func openPlugin(p string) (Factory, error) {
	pl, err := plugin.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", p, err)
	}
	sym, err := pl.Lookup("Factory")
	if err != nil {
		return nil, fmt.Errorf("%w: %s exports no Factory", ErrModuleNotFound, p)
	}
	switch f := sym.(type) {
	case *Factory:
		return *f, nil
	case func(Config, Supplychain) (Instance, error):
		return f, nil
	case *func(Config, Supplychain) (Instance, error):
		return *f, nil
	default:
		return nil, fmt.Errorf("plugin %s: Factory has type %T", p, sym)
	}
}
