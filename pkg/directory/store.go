// Package directory persists which node serves which route. The HQ server
// writes announcements into a Store and resolves reception traffic against it.
package directory

import (
	"context"
	"errors"
	"sort"

	"fabric-node/pkg/model"
	"fabric-node/pkg/router"
)

// ErrNotConfigured is returned by stores whose backing client is missing.
var ErrNotConfigured = errors.New("directory store not configured")

// Store defines the persistence layer for route announcements.
type Store interface {
	Announce(model.Announcement) error
	Lookup(url string) (model.Announcement, bool, error)
	List() ([]model.Announcement, error)
	Withdraw(nodeID string) error
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
}

// Watcher is implemented by stores that can report changes made by other
// writers (for example, a second HQ sharing a consul cluster).
type Watcher interface {
	Watch(ctx context.Context, onChange func([]model.Announcement)) error
}

// bestMatch picks the announcement whose route is the longest registered
// prefix of url.
func bestMatch(all []model.Announcement, url string) (model.Announcement, bool) {
	var (
		best  model.Announcement
		found bool
	)
	for _, a := range all {
		if !router.Covers(a.Route, url) {
			continue
		}
		if !found || len(a.Route) > len(best.Route) {
			best, found = a, true
		}
	}
	return best, found
}

func sortByRoute(list []model.Announcement) {
	sort.Slice(list, func(i, j int) bool { return list[i].Route < list[j].Route })
}

func tail(entries []model.AuditEntry, limit int) []model.AuditEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}
