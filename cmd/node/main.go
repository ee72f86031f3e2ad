package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/fabric"
	"fabric-node/pkg/logging"
	"fabric-node/pkg/manifest"
	"fabric-node/pkg/modules"
	"fabric-node/pkg/node"
	"fabric-node/pkg/transport"
	"fabric-node/pkg/version"
)

func main() {
	root := flag.String("root", ".", "application root; relative module identifiers resolve against it")
	manifestPath := flag.String("manifest", "", "module manifest (default: discover fabric.{yaml,yml,toml,json,jsonc} in --root)")
	nodeID := flag.String("id", "", "node id announced to hq (env FABRIC_NODE_ID, default random)")
	timeout := flag.Duration("request-timeout", node.DefaultRequestTimeout, "upper bound on calls into hq and peer nodes")
	tlsCert := flag.String("tls-cert", "", "certificate for fabric listeners and mTLS dialing")
	tlsKey := flag.String("tls-key", "", "key for --tls-cert")
	tlsCA := flag.String("tls-ca", "", "CA that signs every fabric peer")
	showVersion := flag.BoolP("version", "v", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fabric-node"))
		return
	}
	if err := endpoint.LoadDotEnv(); err != nil {
		log.Fatal("load .env", "error", err)
	}
	logger := logging.New(os.Stderr, logging.ProfileRuntime, os.Getenv)

	id := *nodeID
	if id == "" {
		id = os.Getenv(endpoint.EnvNodeID)
	}
	cfg := fabric.Config{
		Endpoints:      endpoint.FromEnviron(),
		NodeID:         id,
		Secret:         os.Getenv(endpoint.EnvJoinSecret),
		RequestTimeout: *timeout,
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
	client := fabric.NewNetwork(cfg, logger)

	b, err := node.New(*root,
		node.WithLogger(logger),
		node.WithClient(client),
		node.WithBuiltins(modules.Builtins()),
	)
	if err != nil {
		logger.Fatal("node setup", "error", err)
	}

	path := *manifestPath
	if path == "" {
		path, err = manifest.Discover(b.Root())
		if err != nil {
			logger.Fatal("nothing to run", "root", b.Root(), "error", err)
		}
	}
	m, err := manifest.Load(path)
	if err != nil {
		logger.Fatal("load manifest", "error", err)
	}
	if err := b.CompileManifest(m); err != nil {
		_ = b.Close()
		if node.IsFatal(err) {
			logger.Fatal("startup failed", "error", err)
		}
		logger.Fatal("compile manifest", "error", err)
	}
	logger.Info("node running",
		"version", version.Version,
		"node", client.NodeID(),
		"modules", len(m.Modules),
		"address", b.Address(),
		"routes", b.Routes(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")
	if err := b.Close(); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
