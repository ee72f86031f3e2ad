// Package module decides which code a module identifier refers to and loads
// its factory. Resolution is pure; loading goes through a Registry.
package module

import (
	"github.com/charmbracelet/log"

	"fabric-node/pkg/model"
	"fabric-node/pkg/radio"
	"fabric-node/pkg/www"
)

// Keys the resolver places in a module's config.
const (
	KeyID            = "id"
	KeyHQEndpoints   = "hqEndpoints"
	KeyCustomModule  = "_customModule"
	KeySystemModule  = "_systemModule"
	KeyWrapperModule = "_wrapperModule"
)

// Config is the map a factory receives. It always holds KeyID and
// KeyHQEndpoints.
type Config map[string]any

// String returns the string value at key, or "".
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Endpoints returns the HQ endpoints the builder passed in.
func (c Config) Endpoints() model.Endpoints {
	e, _ := c[KeyHQEndpoints].(model.Endpoints)
	return e
}

// ModuleConfig is what a caller supplies when compiling a module.
type ModuleConfig struct {
	// ID names the compiled instance; it reaches the factory as KeyID.
	ID string
	// Wrapper names a built-in module that hosts this one.
	Wrapper  string
	Settings map[string]any
}

// Instance is whatever a factory returns. Instances implementing io.Closer
// are closed with the builder.
type Instance any

// RouteHandler serves one mounted route. notFound replies with the
// not-found sentinel.
type RouteHandler func(req *model.Request, reply model.Reply, notFound func())

// Supplychain is the capability bundle every module receives.
type Supplychain interface {
	MountServer(route, address string, handler RouteHandler) error
	WWW() (*www.Server, error)
	Build(identifier string, mc ModuleConfig) (Instance, error)
	Filepath(p string) string
	Proxy() model.Handler
	Logger() *log.Logger
	Radio() radio.Radio
	// Request sends req to HQ as a trusted in-process request.
	Request(req *model.Request, reply model.Reply)
}

// Factory builds a module instance.
type Factory func(cfg Config, sc Supplychain) (Instance, error)
