package directory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fabric-node/pkg/model"
	"fabric-node/pkg/router"
)

// DefaultSQLitePath is where a standalone HQ keeps its directory.
const DefaultSQLitePath = "/var/lib/fabric/directory.db"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS routes(route TEXT PRIMARY KEY, node_id TEXT NOT NULL, address TEXT NOT NULL, ts INTEGER NOT NULL);
CREATE INDEX IF NOT EXISTS idx_routes_node ON routes(node_id);
CREATE TABLE IF NOT EXISTS audit(id INTEGER PRIMARY KEY AUTOINCREMENT, actor TEXT, action TEXT, target TEXT, detail TEXT, ts INTEGER);`

// SQLiteStore is an embedded single-file directory for one HQ process.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Announce(a model.Announcement) error {
	a.Route = router.Normalize(a.Route)
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO routes(route, node_id, address, ts) VALUES(?,?,?,?)
		ON CONFLICT(route) DO UPDATE SET node_id=excluded.node_id, address=excluded.address, ts=excluded.ts`,
		a.Route, a.NodeID, a.Address, a.At.UnixNano())
	return err
}

func (s *SQLiteStore) Lookup(url string) (model.Announcement, bool, error) {
	all, err := s.List()
	if err != nil {
		return model.Announcement{}, false, err
	}
	a, ok := bestMatch(all, url)
	return a, ok, nil
}

func (s *SQLiteStore) List() ([]model.Announcement, error) {
	rows, err := s.db.Query(`SELECT route, node_id, address, ts FROM routes ORDER BY route`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Announcement
	for rows.Next() {
		var (
			a  model.Announcement
			ts int64
		)
		if err := rows.Scan(&a.Route, &a.NodeID, &a.Address, &ts); err != nil {
			return nil, err
		}
		a.At = time.Unix(0, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Withdraw(nodeID string) error {
	_, err := s.db.Exec(`DELETE FROM routes WHERE node_id=?`, nodeID)
	return err
}

func (s *SQLiteStore) AppendAudit(e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO audit(actor, action, target, detail, ts) VALUES(?,?,?,?,?)`,
		e.Actor, e.Action, e.Target, e.Detail, e.Timestamp.UnixNano())
	return err
}

func (s *SQLiteStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(`SELECT id, actor, action, target, detail, ts FROM audit ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var (
			e  model.AuditEntry
			id int64
			ts int64
		)
		if err := rows.Scan(&id, &e.Actor, &e.Action, &e.Target, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.ID = uint(id)
		e.Timestamp = time.Unix(0, ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tail(out, limit), nil
}
