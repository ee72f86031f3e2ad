package node

import (
	"path/filepath"

	"github.com/charmbracelet/log"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/model"
	"fabric-node/pkg/module"
	"fabric-node/pkg/radio"
	"fabric-node/pkg/www"
)

// supplychain is the module.Supplychain handed to every compiled module.
// It holds nothing but its builder, so every module shares the same
// listener, web host and gate.
type supplychain struct {
	b *Builder
}

var _ module.Supplychain = (*supplychain)(nil)

func (s *supplychain) MountServer(route, address string, handler module.RouteHandler) error {
	return s.b.mountServer(route, address, handler)
}

func (s *supplychain) WWW() (*www.Server, error) {
	return s.b.www()
}

func (s *supplychain) Build(identifier string, mc module.ModuleConfig) (module.Instance, error) {
	return s.b.Compile(identifier, mc)
}

// Filepath passes absolute paths through and resolves the rest against the
// application root.
func (s *supplychain) Filepath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(s.b.root + "/" + p)
}

func (s *supplychain) Proxy() model.Handler {
	return s.b.client.RPCProxy()
}

func (s *supplychain) Logger() *log.Logger {
	return s.b.logger
}

func (s *supplychain) Radio() radio.Radio {
	return s.b.client.Radio()
}

func (s *supplychain) Request(req *model.Request, reply model.Reply) {
	s.b.gate.Internal(req, reply)
}

// www returns the web host, starting it on first use. Its requests enter
// the fabric through the external side of the gate only.
func (b *Builder) www() (*www.Server, error) {
	b.webMu.Lock()
	defer b.webMu.Unlock()
	if b.web != nil {
		return b.web, nil
	}
	s := www.New(":"+endpoint.WWWPort(b.getenv), b.gate.External, b.logger)
	if err := s.Start(); err != nil {
		return nil, fatal("www", err)
	}
	b.web = s
	return s, nil
}

func (b *Builder) closeWWW() error {
	b.webMu.Lock()
	defer b.webMu.Unlock()
	if b.web == nil {
		return nil
	}
	return b.web.Close()
}
