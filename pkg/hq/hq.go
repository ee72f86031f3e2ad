// Package hq is the directory service. Nodes announce the routes they serve,
// and reception forwards any request to whichever node serves its url.
package hq

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"fabric-node/pkg/auth"
	"fabric-node/pkg/directory"
	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/model"
	"fabric-node/pkg/radio"
	"fabric-node/pkg/transport"
)

// DirectoryChannel carries the full route list after every change.
const DirectoryChannel = "directory"

// Config holds HQ settings.
type Config struct {
	Endpoints model.Endpoints
	Store     directory.Store
	// Secret is the join secret nodes present. Empty disables join
	// authentication and trusts every request's internal flag.
	Secret     string
	SigningKey []byte
	TokenTTL   time.Duration
	Caller     *transport.Caller
	// ServerTLS, when set, wraps the RPC listener. The radio listener stays
	// plain.
	ServerTLS *tls.Config
}

// Server runs the RPC listener and the radio/status HTTP listener.
type Server struct {
	cfg    Config
	store  directory.Store
	logger *log.Logger
	caller *transport.Caller
	issuer *auth.Issuer
	secret *auth.Secret

	rpc  *transport.Server
	hub  *radio.Hub
	http *http.Server
	ln   net.Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// New prepares HQ. Nothing listens until Start.
func New(cfg Config, logger *log.Logger) (*Server, error) {
	if cfg.Store == nil {
		cfg.Store = directory.NewMemoryStore()
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = make([]byte, 32)
		if _, err := rand.Read(cfg.SigningKey); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	secret, err := auth.HashSecret(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("hash join secret: %w", err)
	}
	caller := cfg.Caller
	if caller == nil {
		caller = transport.DefaultCaller
	}
	logger = logger.With("component", "hq")
	s := &Server{
		cfg:    cfg,
		store:  cfg.Store,
		logger: logger,
		caller: caller,
		issuer: auth.NewIssuer(cfg.SigningKey, cfg.TokenTTL),
		secret: secret,
		rpc:    transport.NewServer(cfg.Endpoints.Server, logger, serverOptions(cfg)...),
		hub:    radio.NewHub(logger),
	}
	if secret != nil {
		s.hub.RequireToken(func(token string) error {
			_, err := s.issuer.Verify(token)
			return err
		})
	}
	s.rpc.Handle(transport.ActionJoin, s.join)
	s.rpc.Handle(transport.ActionAnnounce, s.announce)
	s.rpc.Handle(transport.ActionWithdraw, s.withdraw)
	s.rpc.Handle(transport.ActionLookup, s.lookup)
	s.rpc.Handle(transport.ActionReception, s.reception)
	return s, nil
}

func serverOptions(cfg Config) []transport.ServerOption {
	if cfg.ServerTLS == nil {
		return nil
	}
	return []transport.ServerOption{transport.WithServerTLS(cfg.ServerTLS)}
}

// Start binds both listeners. If the store can watch for changes made by
// other HQ instances, those changes are republished on the radio.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	if err := s.rpc.Start(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", endpoint.HostPort(s.cfg.Endpoints.Radio))
	if err != nil {
		_ = s.rpc.Close()
		return fmt.Errorf("listen on %s: %w", s.cfg.Endpoints.Radio, err)
	}
	s.ln = ln
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("radio listener stopped", "error", err)
		}
	}()
	s.logger.Info("radio listening", "address", s.RadioAddr())

	if w, ok := s.store.(directory.Watcher); ok {
		go func() {
			err := w.Watch(ctx, func(list []model.Announcement) {
				s.hub.Publish(DirectoryChannel, list)
			})
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("directory watch stopped", "error", err)
			}
		}()
	}
	return nil
}

// Addr is the bound RPC address.
func (s *Server) Addr() string { return s.rpc.Addr() }

// RadioAddr is the bound radio address in tcp:// form.
func (s *Server) RadioAddr() string {
	if s.ln == nil {
		return s.cfg.Endpoints.Radio
	}
	return endpoint.Scheme + "://" + s.ln.Addr().String()
}

// Endpoints are the bound addresses nodes should use.
func (s *Server) Endpoints() model.Endpoints {
	return model.Endpoints{Server: s.Addr(), Radio: s.RadioAddr()}
}

// Hub exposes the radio hub.
func (s *Server) Hub() *radio.Hub { return s.hub }

// Close stops both listeners and disconnects radio peers.
func (s *Server) Close() error {
	var result error
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.rpc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.hub.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		<-s.done
	}
	if c, ok := s.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
