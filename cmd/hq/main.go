package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"fabric-node/pkg/directory"
	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/hq"
	"fabric-node/pkg/logging"
	"fabric-node/pkg/transport"
	"fabric-node/pkg/version"
)

func main() {
	storeType := flag.String("store", "memory", "directory backend: memory|consul|mysql|sqlite")
	consulAddr := flag.String("consul-addr", "", "consul address (when store=consul; default CONSUL_HTTP_ADDR)")
	mysqlDSN := flag.String("mysql-dsn", "", "mysql dsn (when store=mysql; default FABRIC_MYSQL_* env)")
	sqlitePath := flag.String("sqlite-path", "./data/fabric.db", "database file (when store=sqlite)")
	joinSecret := flag.String("join-secret", "", "secret nodes present to join (env FABRIC_JOIN_SECRET)")
	signingKey := flag.String("signing-key", "", "hex HMAC key for node tokens (default random per process)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of issued node tokens")
	tlsCert := flag.String("tls-cert", "", "TLS cert for the rpc listener")
	tlsKey := flag.String("tls-key", "", "TLS key for the rpc listener")
	tlsCA := flag.String("tls-ca", "", "require client certs signed by this CA; also verifies nodes")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fabric-hq"))
		return
	}
	if err := endpoint.LoadDotEnv(); err != nil {
		log.Fatal("load .env", "error", err)
	}
	logger := logging.New(os.Stderr, logging.ProfileRuntime, os.Getenv)

	store, err := openStore(*storeType, *consulAddr, *mysqlDSN, *sqlitePath)
	if err != nil {
		logger.Fatal("open directory", "store", *storeType, "error", err)
	}

	cfg := hq.Config{
		Endpoints: endpoint.FromEnviron(),
		Store:     store,
		Secret:    *joinSecret,
		TokenTTL:  *tokenTTL,
	}
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv(endpoint.EnvJoinSecret)
	}
	if *signingKey != "" {
		key, err := hex.DecodeString(*signingKey)
		if err != nil {
			logger.Fatal("signing key must be hex", "error", err)
		}
		cfg.SigningKey = key
	}
	if *tlsCert != "" && *tlsKey != "" {
		serverTLS, err := transport.ServerTLSConfig(*tlsCert, *tlsKey, *tlsCA)
		if err != nil {
			logger.Fatal("server tls", "error", err)
		}
		clientTLS, err := transport.ClientTLSConfig(*tlsCA, *tlsCert, *tlsKey, false)
		if err != nil {
			logger.Fatal("client tls", "error", err)
		}
		cfg.ServerTLS = serverTLS
		cfg.Caller = &transport.Caller{DialTimeout: 5 * time.Second, TLSConfig: clientTLS}
	}
	if cfg.Secret == "" {
		logger.Warn("no join secret; every node is trusted")
	}

	srv, err := hq.New(cfg, logger)
	if err != nil {
		logger.Fatal("hq setup", "error", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("hq start", "error", err)
	}
	logger.Info("hq running", "version", version.Version, "store", *storeType, "server", srv.Addr(), "radio", srv.RadioAddr())

	<-ctx.Done()
	logger.Info("shutting down")
	if err := srv.Close(); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

func openStore(kind, consulAddr, mysqlDSN, sqlitePath string) (directory.Store, error) {
	switch kind {
	case "memory":
		return directory.NewMemoryStore(), nil
	case "consul":
		return directory.NewConsulStore(consulAddr)
	case "mysql":
		if mysqlDSN != "" {
			_, dbname := directory.MySQLDSN(os.Getenv)
			return directory.OpenMySQL(mysqlDSN, dbname)
		}
		return directory.MySQLFromEnv()
	case "sqlite":
		return directory.OpenSQLite(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", kind)
	}
}
