package directory

import (
	"path/filepath"
	"testing"

	"fabric-node/pkg/model"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()
	anns := []model.Announcement{
		{NodeID: "node-a", Route: "/users", Address: "tcp://127.0.0.1:8793"},
		{NodeID: "node-a", Route: "orders/", Address: "tcp://127.0.0.1:8793"},
		{NodeID: "node-b", Route: "/users/admin", Address: "tcp://127.0.0.1:8794"},
	}
	for _, a := range anns {
		if err := s.Announce(a); err != nil {
			t.Fatalf("announce %s: %v", a.Route, err)
		}
	}

	cases := map[string]string{
		"/users/1":         "node-a",
		"/users/admin/7":   "node-b",
		"/orders?page=2":   "node-a",
		"/users/adminpage": "node-a",
	}
	for url, want := range cases {
		a, ok, err := s.Lookup(url)
		if err != nil || !ok || a.NodeID != want {
			t.Fatalf("lookup %s = %+v, %v, %v; want node %s", url, a, ok, err, want)
		}
	}
	if _, ok, _ := s.Lookup("/usersettings"); ok {
		t.Fatalf("lookup /usersettings should miss")
	}

	list, err := s.List()
	if err != nil || len(list) != 3 {
		t.Fatalf("list = %v, %v", list, err)
	}
	if list[0].Route != "/orders" {
		t.Fatalf("routes should be normalized and sorted, got %q first", list[0].Route)
	}

	// Re-announcing a route moves it to the new node.
	if err := s.Announce(model.Announcement{NodeID: "node-c", Route: "/users", Address: "tcp://127.0.0.1:8795"}); err != nil {
		t.Fatalf("re-announce: %v", err)
	}
	if a, _, _ := s.Lookup("/users"); a.NodeID != "node-c" || a.Address != "tcp://127.0.0.1:8795" {
		t.Fatalf("re-announce not applied: %+v", a)
	}

	if err := s.Withdraw("node-a"); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, ok, _ := s.Lookup("/orders"); ok {
		t.Fatalf("withdrawn route still resolvable")
	}
	if a, ok, _ := s.Lookup("/users/admin"); !ok || a.NodeID != "node-b" {
		t.Fatalf("withdraw removed another node's route")
	}

	for _, action := range []string{"join", "announce", "announce"} {
		if err := s.AppendAudit(model.AuditEntry{Actor: "node-a", Action: action, Target: "/users"}); err != nil {
			t.Fatalf("audit: %v", err)
		}
	}
	entries, err := s.ListAudit(2)
	if err != nil || len(entries) != 2 {
		t.Fatalf("list audit = %v, %v", entries, err)
	}
	if entries[0].Action != "announce" || entries[0].Timestamp.IsZero() {
		t.Fatalf("audit tail should keep the newest entries in order: %+v", entries)
	}
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "directory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer s.Close()
	storeContract(t, s)
}

func TestMemoryLookupRoot(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Announce(model.Announcement{NodeID: "www", Route: "/"})
	for _, url := range []string{"", "/", "/anything?x=1"} {
		if a, ok, _ := s.Lookup(url); !ok || a.NodeID != "www" {
			t.Fatalf("lookup %q should hit root route", url)
		}
	}
}

func TestMySQLDSN(t *testing.T) {
	env := map[string]string{"FABRIC_MYSQL_HOST": "db", "FABRIC_MYSQL_PASS": "pw"}
	dsn, name := MySQLDSN(func(k string) string { return env[k] })
	if name != "fabric" {
		t.Fatalf("db name = %q", name)
	}
	want := "root:pw@tcp(db:3306)/fabric?charset=utf8mb4&parseTime=True&loc=Local"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
	env["FABRIC_MYSQL_DSN"] = "u:p@tcp(x:1)/y"
	if dsn, _ := MySQLDSN(func(k string) string { return env[k] }); dsn != "u:p@tcp(x:1)/y" {
		t.Fatalf("explicit dsn ignored: %q", dsn)
	}
}

func TestConsulStoreRequiresClient(t *testing.T) {
	var s ConsulStore
	if err := s.Announce(model.Announcement{Route: "/x"}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.Lookup("/x"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
