// Package www is the node's HTTP front end. Every request becomes an
// untrusted model.Request handed to a single handler.
package www

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/model"
)

const maxBodySize = 8 << 20

// Server serves HTTP on one address and forwards every request to handler.
type Server struct {
	address string
	handler model.Handler
	logger  *log.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New prepares a server for address (host:port or tcp://host:port).
func New(address string, handler model.Handler, logger *log.Logger) *Server {
	return &Server{
		address: endpoint.HostPort(address),
		handler: handler,
		logger:  logger.With("component", "www"),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("www listen on %s: %w", s.address, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("www server stopped", "error", err)
		}
	}()
	s.logger.Info("www listening", "address", ln.Addr().String())
	return nil
}

// Addr is the bound host:port once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.address
	}
	return s.ln.Addr().String()
}

// Close shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

type reply struct {
	payload any
	err     error
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := toRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	done := make(chan reply, 1)
	s.handler(req, func(err error, payload any) {
		select {
		case done <- reply{payload: payload, err: err}:
		default:
		}
	})
	select {
	case rep := <-done:
		writeReply(w, rep)
	case <-r.Context().Done():
	}
}

// toRequest copies the parts of r a handler may see. JSON bodies are
// decoded; anything else is passed as a string.
func toRequest(r *http.Request) (*model.Request, error) {
	req := &model.Request{
		Method:  strings.ToLower(r.Method),
		URL:     r.URL.RequestURI(),
		Headers: make(map[string]string, len(r.Header)),
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			req.Headers[strings.ToLower(k)] = v[0]
		}
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return req, nil
	}
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		req.Body = body
		return req, nil
	}
	req.Body = string(raw)
	return req, nil
}

func writeReply(w http.ResponseWriter, rep reply) {
	if rep.err != nil {
		f := model.AsFailure(rep.err)
		status := f.Code
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		http.Error(w, f.Message, status)
		return
	}
	switch p := rep.payload.(type) {
	case nil:
		w.WriteHeader(http.StatusNoContent)
	case string:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, p)
	case []byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(p)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}
}
