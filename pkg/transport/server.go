package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"fabric-node/pkg/codec"
	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/model"
)

// ActionFunc serves one decoded envelope. The returned value becomes the
// response data; a non-nil error becomes a failure response.
type ActionFunc func(ctx context.Context, env *Envelope) (any, error)

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 4 << 20
)

// Server accepts connections on a tcp:// address and dispatches each
// envelope by action.
type Server struct {
	address   string
	logger    *log.Logger
	tlsConfig *tls.Config

	mu       sync.RWMutex
	handlers map[string]ActionFunc

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	active   sync.WaitGroup
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerTLS serves TLS with the given config.
func WithServerTLS(cfg *tls.Config) ServerOption {
	return func(s *Server) { s.tlsConfig = cfg }
}

// NewServer creates a server for address (tcp://host:port). Nothing is bound
// until Start.
func NewServer(address string, logger *log.Logger, opts ...ServerOption) *Server {
	s := &Server{
		address:  address,
		logger:   logger,
		handlers: make(map[string]ActionFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers fn for action. Registering an action twice panics.
func (s *Server) Handle(action string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("transport.Server: duplicate handler for action %q", action))
	}
	s.handlers[action] = fn
}

// Start binds the listener and serves in the background until ctx is
// cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", endpoint.HostPort(s.address))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go s.serve(ctx)
	s.logger.Info("rpc listener started", "address", s.Addr())
	return nil
}

// Addr is the bound address, which differs from the configured one when
// port 0 was requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return endpoint.Scheme + "://" + s.listener.Addr().String()
}

// Close stops accepting connections and waits for in-flight handlers.
func (s *Server) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *Server) serve(ctx context.Context) {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}
	s.active.Wait()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var env Envelope
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.write(conn, Response{Error: model.Failuref(400, "invalid envelope: %v", err).Error()})
		return
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.RLock()
	fn, ok := s.handlers[env.Action]
	s.mu.RUnlock()
	if !ok {
		s.write(conn, Response{Error: model.Failuref(400, "unknown action %q", env.Action).Error()})
		return
	}

	result, err := fn(ctx, &env)
	if err != nil {
		s.logger.Debug("action failed", "action", env.Action, "error", err)
		s.write(conn, Response{Error: model.AsFailure(err).Error()})
		return
	}
	resp := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.write(conn, Response{Error: model.Failuref(500, "encode result: %v", err).Error()})
			return
		}
		resp.Data = data
	}
	s.write(conn, resp)
}

func (s *Server) write(conn net.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
