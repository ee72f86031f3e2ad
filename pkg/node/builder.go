// Package node bootstraps a fabric node: it resolves HQ, compiles modules
// against a shared supplychain, and runs the single route server those
// modules mount onto.
package node

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/fabric"
	"fabric-node/pkg/logging"
	"fabric-node/pkg/manifest"
	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
	"fabric-node/pkg/trust"
	"fabric-node/pkg/www"
)

// Builder owns one node's configuration and its supplychain.
type Builder struct {
	root      string
	endpoints model.Endpoints
	getenv    func(string) string
	ports     PortAllocator
	logger    *log.Logger

	client   fabric.Client
	builtins *module.Builtins
	files    *module.FileRegistry
	registry module.Registry
	gate     *trust.Gate

	supplychain *supplychain
	routes      routeServer

	webMu sync.Mutex
	web   *www.Server

	mu        sync.Mutex
	instances []module.Instance
}

// DefaultRequestTimeout bounds each call the default fabric client makes to
// HQ or a peer node.
const DefaultRequestTimeout = 30 * time.Second

type Option func(*Builder)

// WithClient replaces the transport-backed fabric client.
func WithClient(c fabric.Client) Option {
	return func(b *Builder) { b.client = c }
}

// WithPorts replaces the process-wide port allocator.
func WithPorts(p PortAllocator) Option {
	return func(b *Builder) { b.ports = p }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithGetenv replaces os.Getenv for every configuration lookup.
func WithGetenv(getenv func(string) string) Option {
	return func(b *Builder) { b.getenv = getenv }
}

// WithBuiltins sets the built-in modules available to Compile.
func WithBuiltins(bi *module.Builtins) Option {
	return func(b *Builder) { b.builtins = bi }
}

// WithRegistry replaces module loading entirely.
func WithRegistry(r module.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// New creates the builder for the application at root.
func New(root string, opts ...Option) (*Builder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fatal("application root", err)
	}
	b := &Builder{
		root:   abs,
		getenv: os.Getenv,
		ports:  sharedPorts,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.New(os.Stderr, logging.ProfileRuntime, b.getenv)
	}
	b.endpoints = endpoint.Resolve(b.getenv)
	if b.builtins == nil {
		b.builtins = module.NewBuiltins()
	}
	b.files = module.NewFileRegistry(abs)
	if b.registry == nil {
		b.registry = &module.Loader{Builtins: b.builtins, Files: b.files}
	}
	if b.client == nil {
		b.client = fabric.NewNetwork(fabric.Config{
			Endpoints:      b.endpoints,
			NodeID:         b.getenv(endpoint.EnvNodeID),
			Secret:         b.getenv(endpoint.EnvJoinSecret),
			RequestTimeout: DefaultRequestTimeout,
		}, b.logger)
	}
	b.gate = trust.New(b.client.Reception())
	b.supplychain = &supplychain{b: b}
	b.logger.Debug("node builder ready", "root", abs, "hq", b.endpoints.Server, "radio", b.endpoints.Radio)
	return b, nil
}

func (b *Builder) Root() string { return b.root }
func (b *Builder) Endpoints() model.Endpoints { return b.endpoints }
func (b *Builder) Supplychain() module.Supplychain { return b.supplychain }
func (b *Builder) Builtins() *module.Builtins { return b.builtins }
func (b *Builder) Applications() *module.FileRegistry { return b.files }

// Compile resolves identifier, loads its factory and invokes it with the
// shared supplychain.
func (b *Builder) Compile(identifier string, mc module.ModuleConfig) (module.Instance, error) {
	return b.compile(identifier, mc, false)
}

// CompileCustom compiles identifier as a direct path, bypassing the
// application root.
func (b *Builder) CompileCustom(identifier string, mc module.ModuleConfig) (module.Instance, error) {
	return b.compile(identifier, mc, true)
}

// CompileManifest compiles every entry in order and stops at the first
// failure.
func (b *Builder) CompileManifest(m *manifest.Manifest) error {
	for _, e := range m.Modules {
		var err error
		if e.Custom {
			_, err = b.CompileCustom(e.Module, e.ModuleConfig())
		} else {
			_, err = b.Compile(e.Module, e.ModuleConfig())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) compile(identifier string, mc module.ModuleConfig, custom bool) (module.Instance, error) {
	ref, err := module.Resolve(b.root, identifier, mc, custom)
	if err != nil {
		return nil, fatal("resolve "+identifier, err)
	}
	factory, err := b.registry.Load(ref)
	if err != nil {
		return nil, fatal("load "+identifier, err)
	}
	inst, err := factory(module.PassConfig(b.endpoints, ref, mc), b.supplychain)
	if err != nil {
		return nil, fatal("compile "+identifier, err)
	}
	if inst != nil {
		b.mu.Lock()
		b.instances = append(b.instances, inst)
		b.mu.Unlock()
	}
	b.logger.Info("module compiled", "module", identifier, "id", mc.ID, "kind", ref.Kind, "path", ref.Path)
	return inst, nil
}

// Close stops compiled modules in reverse order, then the route server,
// web host and fabric client.
func (b *Builder) Close() error {
	var result error
	b.mu.Lock()
	instances := b.instances
	b.instances = nil
	b.mu.Unlock()
	for i := len(instances) - 1; i >= 0; i-- {
		if c, ok := instances[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for _, closeFn := range []func() error{b.closeRouteServer, b.closeWWW, b.client.Close} {
		if err := closeFn(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
