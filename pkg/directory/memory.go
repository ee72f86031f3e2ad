package directory

import (
	"sync"
	"time"

	iradix "github.com/hashicorp/go-immutable-radix"

	"fabric-node/pkg/model"
	"fabric-node/pkg/router"
)

// MemoryStore is an in-memory implementation, intended for dev and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	routes *iradix.Tree
	audit  []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routes: iradix.New()}
}

func (m *MemoryStore) Announce(a model.Announcement) error {
	a.Route = router.Normalize(a.Route)
	if a.At.IsZero() {
		a.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes, _, _ = m.routes.Insert([]byte(a.Route), a)
	return nil
}

func (m *MemoryStore) Lookup(url string) (model.Announcement, bool, error) {
	m.mu.RLock()
	root := m.routes.Root()
	m.mu.RUnlock()

	var (
		best  model.Announcement
		found bool
	)
	root.WalkPath([]byte(pathPrefix(url)), func(_ []byte, v interface{}) bool {
		a := v.(model.Announcement)
		if router.Covers(a.Route, url) {
			best, found = a, true
		}
		return false
	})
	return best, found, nil
}

func (m *MemoryStore) List() ([]model.Announcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Announcement, 0, m.routes.Len())
	m.routes.Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(model.Announcement))
		return false
	})
	return out, nil
}

func (m *MemoryStore) Withdraw(nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := m.routes.Txn()
	m.routes.Root().Walk(func(k []byte, v interface{}) bool {
		if v.(model.Announcement).NodeID == nodeID {
			txn.Delete(k)
		}
		return false
	})
	m.routes = txn.Commit()
	return nil
}

func (m *MemoryStore) AppendAudit(e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := tail(m.audit, limit)
	return append([]model.AuditEntry(nil), out...), nil
}

// pathPrefix strips query and fragment so the radix walk follows the path.
func pathPrefix(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == '?' || url[i] == '#' {
			url = url[:i]
			break
		}
	}
	if url == "" {
		return "/"
	}
	return url
}
