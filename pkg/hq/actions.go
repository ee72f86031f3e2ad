package hq

import (
	"context"
	"errors"
	"time"

	"fabric-node/pkg/model"
	"fabric-node/pkg/transport"
)

func (s *Server) join(_ context.Context, env *transport.Envelope) (any, error) {
	if env.Join == nil || env.Join.NodeID == "" {
		return nil, model.Failuref(400, "node id is required")
	}
	if err := s.secret.Check(env.Join.Secret); err != nil {
		s.audit(env.Join.NodeID, "join_refused", env.Join.NodeID, "")
		return nil, model.Failuref(403, "%v", err)
	}
	tok, err := s.issuer.Issue(env.Join.NodeID)
	if err != nil {
		return nil, model.Failuref(500, "issue token: %v", err)
	}
	s.audit(env.Join.NodeID, "join", env.Join.NodeID, "")
	s.logger.Info("node joined", "node", env.Join.NodeID)
	return tok, nil
}

func (s *Server) announce(_ context.Context, env *transport.Envelope) (any, error) {
	a := env.Announcement
	if a == nil || a.Route == "" || a.Address == "" {
		return nil, model.Failuref(400, "announcement needs route and address")
	}
	if err := s.authorize(env.Token, a.NodeID); err != nil {
		return nil, err
	}
	a.At = time.Now()
	if err := s.store.Announce(*a); err != nil {
		return nil, model.Failuref(500, "store announcement: %v", err)
	}
	s.audit(a.NodeID, "announce", a.Route, a.Address)
	s.logger.Info("route announced", "route", a.Route, "node", a.NodeID, "address", a.Address)
	s.publishDirectory()
	return nil, nil
}

func (s *Server) withdraw(_ context.Context, env *transport.Envelope) (any, error) {
	if env.NodeID == "" {
		return nil, model.Failuref(400, "node id is required")
	}
	if err := s.authorize(env.Token, env.NodeID); err != nil {
		return nil, err
	}
	if err := s.store.Withdraw(env.NodeID); err != nil {
		return nil, model.Failuref(500, "withdraw: %v", err)
	}
	s.audit(env.NodeID, "withdraw", env.NodeID, "")
	s.logger.Info("node withdrawn", "node", env.NodeID)
	s.publishDirectory()
	return nil, nil
}

// authorize checks that token was issued to nodeID. Without a join secret
// every caller is authorized.
func (s *Server) authorize(token, nodeID string) error {
	if s.secret == nil {
		return nil
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return model.Failuref(401, "%v", err)
	}
	if claims.NodeID != nodeID {
		return model.Failuref(403, "token belongs to %s", claims.NodeID)
	}
	return nil
}

func (s *Server) lookup(_ context.Context, env *transport.Envelope) (any, error) {
	a, ok, err := s.store.Lookup(env.Route)
	if err != nil {
		return nil, model.Failuref(500, "lookup: %v", err)
	}
	if !ok {
		return nil, model.NotFound
	}
	return a, nil
}

// reception forwards a request to the node serving its url. The internal
// flag survives only when the caller holds a valid node token.
func (s *Server) reception(ctx context.Context, env *transport.Envelope) (any, error) {
	req := env.Request
	if req == nil {
		return nil, model.Failuref(400, "missing request")
	}
	if req.Internal && !s.trusted(env.Token) {
		s.logger.Warn("internal flag dropped from untrusted request", "url", req.URL)
		req.Internal = false
	}
	a, ok, err := s.store.Lookup(req.URL)
	if err != nil {
		return nil, model.Failuref(500, "lookup: %v", err)
	}
	if !ok {
		return nil, model.NotFound
	}
	var out any
	err = s.caller.Call(ctx, a.Address, &transport.Envelope{Action: transport.ActionRequest, Request: req}, &out)
	if err != nil {
		var f *model.Failure
		if errors.As(err, &f) {
			return nil, f
		}
		s.logger.Warn("node unreachable", "node", a.NodeID, "address", a.Address, "error", err)
		return nil, model.Failuref(502, "node %s unreachable", a.NodeID)
	}
	return out, nil
}

func (s *Server) trusted(token string) bool {
	if s.secret == nil {
		return true
	}
	_, err := s.issuer.Verify(token)
	return err == nil
}

func (s *Server) publishDirectory() {
	list, err := s.store.List()
	if err != nil {
		s.logger.Warn("list routes for radio", "error", err)
		return
	}
	s.hub.Publish(DirectoryChannel, list)
}

func (s *Server) audit(actor, action, target, detail string) {
	err := s.store.AppendAudit(model.AuditEntry{
		Actor:     actor,
		Action:    action,
		Target:    target,
		Detail:    detail,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.logger.Debug("audit append failed", "error", err)
	}
}
