//go:build !((linux || darwin) && cgo)

package module

import (
	"errors"
	"fmt"
)

var errPluginsUnsupported = errors.New("go plugins are not supported on this build")

func openPlugin(p string) (Factory, error) {
	return nil, fmt.Errorf("open plugin %s: %w", p, errPluginsUnsupported)
}
