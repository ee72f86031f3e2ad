package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"fabric-node/pkg/model"
	"fabric-node/pkg/router"
)

const (
	routesPrefix = "fabric/routes/"
	auditPrefix  = "fabric/audit/"
	watchRetry   = time.Second
)

// ConsulStore keeps announcements in Consul KV so several HQ processes can
// share one directory.
type ConsulStore struct {
	cli *consulapi.Client
}

// NewConsulStore connects to the agent at addr (host:port). An empty addr
// uses the client defaults (CONSUL_HTTP_ADDR or 127.0.0.1:8500).
func NewConsulStore(addr string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulStore{cli: cli}, nil
}

func routeKey(route string) string {
	return routesPrefix + url.PathEscape(route)
}

func (s *ConsulStore) Announce(a model.Announcement) error {
	if s.cli == nil {
		return ErrNotConfigured
	}
	a.Route = router.Normalize(a.Route)
	if a.At.IsZero() {
		a.At = time.Now()
	}
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: routeKey(a.Route), Value: b}, nil)
	return err
}

func (s *ConsulStore) Lookup(u string) (model.Announcement, bool, error) {
	all, err := s.List()
	if err != nil {
		return model.Announcement{}, false, err
	}
	a, ok := bestMatch(all, u)
	return a, ok, nil
}

func (s *ConsulStore) List() ([]model.Announcement, error) {
	if s.cli == nil {
		return nil, ErrNotConfigured
	}
	pairs, _, err := s.cli.KV().List(routesPrefix, nil)
	if err != nil {
		return nil, err
	}
	return decodeAnnouncements(pairs), nil
}

func (s *ConsulStore) Withdraw(nodeID string) error {
	all, err := s.List()
	if err != nil {
		return err
	}
	for _, a := range all {
		if a.NodeID != nodeID {
			continue
		}
		if _, err := s.cli.KV().Delete(routeKey(a.Route), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConsulStore) AppendAudit(e model.AuditEntry) error {
	if s.cli == nil {
		return ErrNotConfigured
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d-%s", auditPrefix, e.Timestamp.UnixNano(), url.PathEscape(e.Target))
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *ConsulStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	if s.cli == nil {
		return nil, ErrNotConfigured
	}
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	return tail(out, limit), nil
}

// Watch runs a blocking query on the routes prefix and calls onChange with
// the full route set each time it changes, until ctx is done.
func (s *ConsulStore) Watch(ctx context.Context, onChange func([]model.Announcement)) error {
	if s.cli == nil {
		return ErrNotConfigured
	}
	go func() {
		q := (&consulapi.QueryOptions{}).WithContext(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			pairs, meta, err := s.cli.KV().List(routesPrefix, q)
			if err != nil {
				if !sleepCtx(ctx, watchRetry) {
					return
				}
				continue
			}
			if meta.LastIndex != q.WaitIndex {
				onChange(decodeAnnouncements(pairs))
			}
			q.WaitIndex = meta.LastIndex
		}
	}()
	return nil
}

// sleepCtx waits d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func decodeAnnouncements(pairs consulapi.KVPairs) []model.Announcement {
	out := make([]model.Announcement, 0, len(pairs))
	for _, p := range pairs {
		var a model.Announcement
		if err := json.Unmarshal(p.Value, &a); err == nil {
			out = append(out, a)
		}
	}
	sortByRoute(out)
	return out
}
