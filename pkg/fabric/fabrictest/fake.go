// Package fabrictest provides an in-memory fabric.Client for tests.
package fabrictest

import (
	"fmt"
	"sync"

	"fabric-node/pkg/fabric"
	"fabric-node/pkg/model"
	"fabric-node/pkg/radio"
)

// Client records everything a node asks of the fabric. Reception requests
// are answered by ReceptionReply, defaulting to "ok".
type Client struct {
	mu        sync.Mutex
	servers   []*Server
	received  []*model.Request
	proxied   []*model.Request
	radio     *Radio
	closed    bool
	ListenErr error
	// BindErr, when set, fails every Bind without recording the route.
	BindErr error

	ReceptionReply func(req *model.Request, reply model.Reply)
}

var _ fabric.Client = (*Client)(nil)

func New() *Client {
	return &Client{radio: NewRadio()}
}

func (c *Client) RPCServer(d fabric.Descriptor) (fabric.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ListenErr != nil {
		return nil, c.ListenErr
	}
	s := &Server{ID: d.ID, address: d.Address, client: c}
	c.servers = append(c.servers, s)
	return s, nil
}

func (c *Client) RPCProxy() model.Handler {
	return func(req *model.Request, reply model.Reply) {
		c.mu.Lock()
		c.proxied = append(c.proxied, req)
		c.mu.Unlock()
		reply(nil, "proxied")
	}
}

func (c *Client) Reception() model.Handler {
	return func(req *model.Request, reply model.Reply) {
		c.mu.Lock()
		c.received = append(c.received, req)
		fn := c.ReceptionReply
		c.mu.Unlock()
		if fn != nil {
			fn(req, reply)
			return
		}
		reply(nil, "ok")
	}
}

func (c *Client) Radio() radio.Radio {
	return c.radio
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Servers returns every listener created so far.
func (c *Client) Servers() []*Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Server(nil), c.servers...)
}

// Received returns the requests that reached the reception pipe.
func (c *Client) Received() []*model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Request(nil), c.received...)
}

// Proxied returns the requests sent through the proxy.
func (c *Client) Proxied() []*model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Request(nil), c.proxied...)
}

func (c *Client) FakeRadio() *Radio {
	return c.radio
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Server is a listener that never touches the network. Serve delivers a
// request as if it had arrived on the wire.
type Server struct {
	ID      string
	address string
	client  *Client

	mu      sync.Mutex
	handler model.Handler
	bound   []string
	closed  bool
}

func (s *Server) OnRequest(h model.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Server) Bind(route string) error {
	s.client.mu.Lock()
	err := s.client.BindErr
	s.client.mu.Unlock()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bound = append(s.bound, route)
	return nil
}

func (s *Server) Address() string { return s.address }

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Bound lists routes in bind order.
func (s *Server) Bound() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bound...)
}

func (s *Server) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Serve dispatches req to the installed handler and returns its reply.
// Handlers in tests are expected to reply synchronously.
func (s *Server) Serve(req *model.Request) (any, error) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("no handler installed")
	}
	var (
		payload any
		err     error
		replied bool
	)
	h(req, func(e error, p any) {
		payload, err, replied = p, e, true
	})
	if !replied {
		return nil, fmt.Errorf("handler did not reply")
	}
	return payload, err
}

// Radio is an in-process pub/sub that delivers synchronously.
type Radio struct {
	mu        sync.Mutex
	subs      map[string]map[int]func(any)
	next      int
	Published []Message
}

type Message struct {
	Channel string
	Payload any
}

func NewRadio() *Radio {
	return &Radio{subs: map[string]map[int]func(any){}}
}

func (r *Radio) Publish(channel string, payload any) error {
	r.mu.Lock()
	r.Published = append(r.Published, Message{Channel: channel, Payload: payload})
	fns := make([]func(any), 0, len(r.subs[channel]))
	for _, fn := range r.subs[channel] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (r *Radio) Subscribe(channel string, fn func(any)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[channel] == nil {
		r.subs[channel] = map[int]func(any){}
	}
	id := r.next
	r.next++
	r.subs[channel][id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[channel], id)
	}
}

// Subscribers reports how many handlers listen on channel.
func (r *Radio) Subscribers(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[channel])
}
