package directory

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fabric-node/pkg/model"
	"fabric-node/pkg/router"
)

// SQLStore keeps announcements in a relational database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore migrates the schema on an already opened database.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}
	if err := db.AutoMigrate(&model.Announcement{}, &model.AuditEntry{}); err != nil {
		return nil, fmt.Errorf("migrate directory schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// MySQLDSN builds a DSN from the environment.
// Env:
//
//	FABRIC_MYSQL_DSN or FABRIC_MYSQL_HOST, FABRIC_MYSQL_PORT, FABRIC_MYSQL_USER, FABRIC_MYSQL_PASS, FABRIC_MYSQL_DB
func MySQLDSN(getenv func(string) string) (dsn, dbname string) {
	get := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	dbname = get("FABRIC_MYSQL_DB", "fabric")
	if dsn = getenv("FABRIC_MYSQL_DSN"); dsn != "" {
		return dsn, dbname
	}
	dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		get("FABRIC_MYSQL_USER", "root"), get("FABRIC_MYSQL_PASS", ""),
		get("FABRIC_MYSQL_HOST", "127.0.0.1"), get("FABRIC_MYSQL_PORT", "3306"), dbname)
	return dsn, dbname
}

// OpenMySQL connects to MySQL, creating the database when it is missing.
func OpenMySQL(dsn, dbname string) (*SQLStore, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil && strings.Contains(err.Error(), "Unknown database") {
		if cerr := createDatabase(dsn, dbname); cerr != nil {
			return nil, fmt.Errorf("create database failed: %w", cerr)
		}
		db, err = gorm.Open(mysql.Open(dsn), cfg)
	}
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	return NewSQLStore(db)
}

// MySQLFromEnv opens the store described by FABRIC_MYSQL_* variables.
func MySQLFromEnv() (*SQLStore, error) {
	dsn, dbname := MySQLDSN(os.Getenv)
	return OpenMySQL(dsn, dbname)
}

func createDatabase(dsn, dbname string) error {
	server := dsn
	if i := strings.LastIndex(dsn, "/"); i >= 0 {
		server = dsn[:i+1]
	}
	db, err := sql.Open("mysql", server)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", dbname))
	return err
}

func (s *SQLStore) Announce(a model.Announcement) error {
	a.Route = router.Normalize(a.Route)
	if a.At.IsZero() {
		a.At = time.Now()
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&a).Error
}

func (s *SQLStore) Lookup(url string) (model.Announcement, bool, error) {
	all, err := s.List()
	if err != nil {
		return model.Announcement{}, false, err
	}
	a, ok := bestMatch(all, url)
	return a, ok, nil
}

func (s *SQLStore) List() ([]model.Announcement, error) {
	var out []model.Announcement
	if err := s.db.Order("route").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) Withdraw(nodeID string) error {
	return s.db.Where("node_id = ?", nodeID).Delete(&model.Announcement{}).Error
}

func (s *SQLStore) AppendAudit(e model.AuditEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return s.db.Create(&e).Error
}

func (s *SQLStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	q := s.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
