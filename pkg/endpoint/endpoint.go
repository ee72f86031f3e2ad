// Package endpoint derives directory service and node addresses from
// environment-style configuration.
package endpoint

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"fabric-node/pkg/model"
)

const (
	EnvHQHost       = "FABRIC_HQ_HOST"
	EnvHQServerPort = "FABRIC_HQ_SERVER_PORT"
	EnvHQRadioPort  = "FABRIC_HQ_RADIO_PORT"
	EnvNodeHost     = "FABRIC_NODE_HOST"
	EnvNodePort     = "FABRIC_NODE_PORT"
	EnvWWWPort      = "FABRIC_WWW_PORT"
	EnvNodeID       = "FABRIC_NODE_ID"
	EnvJoinSecret   = "FABRIC_JOIN_SECRET"
)

const (
	Scheme            = "tcp"
	DefaultHost       = "127.0.0.1"
	DefaultServerPort = 8791
	DefaultRadioPort  = 8792
	FirstNodePort     = 8793
	DefaultWWWPort    = 80
)

// Resolve derives the directory endpoints. It never fails: any missing or
// blank override falls back to its default.
func Resolve(getenv func(string) string) model.Endpoints {
	host := getenvDefault(getenv, EnvHQHost, DefaultHost)
	return model.Endpoints{
		Server: Address(host, getenvDefault(getenv, EnvHQServerPort, strconv.Itoa(DefaultServerPort))),
		Radio:  Address(host, getenvDefault(getenv, EnvHQRadioPort, strconv.Itoa(DefaultRadioPort))),
	}
}

// FromEnviron resolves endpoints from the process environment.
func FromEnviron() model.Endpoints {
	return Resolve(os.Getenv)
}

// NodeHost is the host this node binds its listener to.
func NodeHost(getenv func(string) string) string {
	return getenvDefault(getenv, EnvNodeHost, DefaultHost)
}

// NodePort returns the explicit node port override, if any.
func NodePort(getenv func(string) string) (string, bool) {
	v := strings.TrimSpace(getenv(EnvNodePort))
	return v, v != ""
}

// WWWPort is the web front end's port: FABRIC_WWW_PORT, else the node port
// override, else 80.
func WWWPort(getenv func(string) string) string {
	if v := getenvDefault(getenv, EnvWWWPort, ""); v != "" {
		return v
	}
	return getenvDefault(getenv, EnvNodePort, strconv.Itoa(DefaultWWWPort))
}

// Address formats scheme://host:port. Port may be a string or an integer.
func Address(host string, port any) string {
	return fmt.Sprintf("%s://%s:%v", Scheme, host, port)
}

// HostPort strips the scheme from an address, returning host:port for dialing.
func HostPort(address string) string {
	if _, rest, ok := strings.Cut(address, "://"); ok {
		return rest
	}
	return address
}

// LoadDotEnv loads .env from the working directory when present. Variables
// already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func getenvDefault(getenv func(string) string, key, def string) string {
	if getenv == nil {
		return def
	}
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}
