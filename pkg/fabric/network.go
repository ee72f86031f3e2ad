package fabric

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"fabric-node/pkg/model"
	"fabric-node/pkg/radio"
	"fabric-node/pkg/transport"
)

const withdrawTimeout = 2 * time.Second

// Config describes how a node reaches HQ.
type Config struct {
	Endpoints model.Endpoints
	NodeID    string
	// Secret is exchanged for a node token on first use. Empty means HQ
	// runs without join authentication.
	Secret string
	Caller *transport.Caller
	// ServerTLS, when set, wraps every fabric listener this node opens.
	ServerTLS *tls.Config
	// RequestTimeout bounds calls to HQ. Zero means no limit.
	RequestTimeout time.Duration
	// AnnounceRetry is the delay between announce attempts while HQ is
	// unreachable.
	AnnounceRetry time.Duration
}

// Network is the transport-backed Client.
type Network struct {
	cfg    Config
	logger *log.Logger
	caller *transport.Caller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tokenMu sync.Mutex
	token   string

	radioOnce sync.Once
	radio     *radio.Client

	mu      sync.Mutex
	servers []*rpcServer
}

// NewNetwork builds a client for cfg. Nothing is dialed until used.
func NewNetwork(cfg Config, logger *log.Logger) *Network {
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}
	if cfg.AnnounceRetry == 0 {
		cfg.AnnounceRetry = 2 * time.Second
	}
	caller := cfg.Caller
	if caller == nil {
		caller = transport.DefaultCaller
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		cfg:    cfg,
		logger: logger.With("component", "fabric"),
		caller: caller,
		ctx:    ctx,
		cancel: cancel,
	}
}

// NodeID identifies this node in announcements.
func (n *Network) NodeID() string {
	return n.cfg.NodeID
}

// RPCServer starts a listener on d.Address. Requests are refused with 503
// until OnRequest installs a handler.
func (n *Network) RPCServer(d Descriptor) (Server, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s := &rpcServer{
		network: n,
		id:      d.ID,
		srv:     transport.NewServer(d.Address, n.logger, n.serverOptions()...),
	}
	s.srv.Handle(transport.ActionRequest, s.serve)
	if err := s.srv.Start(n.ctx); err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.servers = append(n.servers, s)
	n.mu.Unlock()
	return s, nil
}

// RPCProxy returns a handler that resolves the serving node through HQ and
// sends the request straight to it.
func (n *Network) RPCProxy() model.Handler {
	return func(req *model.Request, reply model.Reply) {
		ctx, cancel := n.callContext()
		defer cancel()
		var target model.Announcement
		env := &transport.Envelope{Action: transport.ActionLookup, Route: req.URL}
		if err := n.callHQ(ctx, env, &target); err != nil {
			reply(err, nil)
			return
		}
		var out any
		err := n.caller.Call(ctx, target.Address, &transport.Envelope{
			Action:  transport.ActionRequest,
			Request: req,
		}, &out)
		reply(err, out)
	}
}

// Reception returns the pipe into HQ's reception, which routes the request
// to whichever node serves its url.
func (n *Network) Reception() model.Handler {
	return func(req *model.Request, reply model.Reply) {
		ctx, cancel := n.callContext()
		defer cancel()
		var out any
		err := n.callHQ(ctx, &transport.Envelope{Action: transport.ActionReception, Request: req}, &out)
		reply(err, out)
	}
}

// Radio returns the pub/sub client, connecting it on first use.
func (n *Network) Radio() radio.Radio {
	n.radioOnce.Do(func() {
		c := radio.NewClient(n.cfg.Endpoints.Radio, n.logger)
		ctx, cancel := n.callContext()
		tok, err := n.ensureToken(ctx)
		cancel()
		if err == nil {
			c.SetToken(tok)
		} else {
			n.logger.Warn("radio connecting without token", "error", err)
		}
		c.Start(n.ctx)
		n.mu.Lock()
		n.radio = c
		n.mu.Unlock()
	})
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.radio
}

// Close withdraws this node's routes from HQ, then stops every listener and
// the radio. A failed withdraw is logged; HQ may already be gone. The
// withdraw waits at most RequestTimeout or two seconds, whichever is less.
func (n *Network) Close() error {
	n.mu.Lock()
	servers := n.servers
	n.servers = nil
	rc := n.radio
	n.mu.Unlock()
	if bound(servers) {
		limit := withdrawTimeout
		if t := n.cfg.RequestTimeout; t > 0 && t < limit {
			limit = t
		}
		ctx, cancel := context.WithTimeout(n.ctx, limit)
		err := n.callHQ(ctx, &transport.Envelope{Action: transport.ActionWithdraw, NodeID: n.cfg.NodeID}, nil)
		cancel()
		if err != nil {
			n.logger.Debug("withdraw failed", "error", err)
		}
	}
	n.cancel()
	var result error
	for _, s := range servers {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	n.wg.Wait()
	return result
}

func (n *Network) serverOptions() []transport.ServerOption {
	if n.cfg.ServerTLS == nil {
		return nil
	}
	return []transport.ServerOption{transport.WithServerTLS(n.cfg.ServerTLS)}
}

func (n *Network) callContext() (context.Context, context.CancelFunc) {
	if n.cfg.RequestTimeout > 0 {
		return context.WithTimeout(n.ctx, n.cfg.RequestTimeout)
	}
	return context.WithCancel(n.ctx)
}

// callHQ attaches the node token and calls HQ's server endpoint.
func (n *Network) callHQ(ctx context.Context, env *transport.Envelope, out any) error {
	tok, err := n.ensureToken(ctx)
	if err != nil {
		return err
	}
	env.Token = tok
	return n.caller.Call(ctx, n.cfg.Endpoints.Server, env, out)
}

// ensureToken joins HQ once when a secret is configured. A failed join is
// retried on the next call.
func (n *Network) ensureToken(ctx context.Context) (string, error) {
	if n.cfg.Secret == "" {
		return "", nil
	}
	n.tokenMu.Lock()
	defer n.tokenMu.Unlock()
	if n.token != "" {
		return n.token, nil
	}
	var tok string
	err := n.caller.Call(ctx, n.cfg.Endpoints.Server, &transport.Envelope{
		Action: transport.ActionJoin,
		Join:   &transport.Join{NodeID: n.cfg.NodeID, Secret: n.cfg.Secret},
	}, &tok)
	if err != nil {
		return "", fmt.Errorf("join hq: %w", err)
	}
	n.token = tok
	n.logger.Debug("joined hq", "node", n.cfg.NodeID)
	return tok, nil
}

// announce tells HQ that address serves route, retrying in the background
// while HQ is unreachable or silent. Each attempt is bounded by
// RequestTimeout. Refusals from HQ are not retried.
func (n *Network) announce(route, address string) {
	a := model.Announcement{NodeID: n.cfg.NodeID, Route: route, Address: address}
	err := n.announceOnce(&a)
	if err == nil || !retryable(err) {
		if err != nil {
			n.logger.Error("announce refused", "route", route, "error", err)
		}
		return
	}
	n.logger.Warn("hq unreachable, announcing in background", "route", route, "error", err)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		t := time.NewTicker(n.cfg.AnnounceRetry)
		defer t.Stop()
		for {
			select {
			case <-n.ctx.Done():
				return
			case <-t.C:
			}
			err := n.announceOnce(&a)
			if err == nil {
				n.logger.Info("route announced", "route", route)
				return
			}
			if !retryable(err) {
				n.logger.Error("announce refused", "route", route, "error", err)
				return
			}
		}
	}()
}

func (n *Network) announceOnce(a *model.Announcement) error {
	ctx, cancel := n.callContext()
	defer cancel()
	return n.callHQ(ctx, &transport.Envelope{Action: transport.ActionAnnounce, Announcement: a}, nil)
}

func bound(servers []*rpcServer) bool {
	for _, s := range servers {
		if len(s.Routes()) > 0 {
			return true
		}
	}
	return false
}

// retryable reports whether err came from the wire rather than from HQ.
func retryable(err error) bool {
	var f *model.Failure
	return !errors.As(err, &f)
}
