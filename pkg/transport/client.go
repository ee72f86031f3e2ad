package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"fabric-node/pkg/codec"
	"fabric-node/pkg/endpoint"
	"fabric-node/pkg/model"
)

// Caller sends envelopes to tcp:// addresses.
type Caller struct {
	DialTimeout time.Duration
	TLSConfig   *tls.Config
}

// DefaultCaller dials plain TCP with a short connect timeout.
var DefaultCaller = &Caller{DialTimeout: 5 * time.Second}

// Call sends env to address and decodes the response data into out (which
// may be nil). Failure responses come back as *model.Failure. There is no
// deadline on the wait for the response beyond ctx.
func (c *Caller) Call(ctx context.Context, address string, env *Envelope, out any) error {
	dialer := &net.Dialer{Timeout: c.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if c.TLSConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: c.TLSConfig}
		conn, err = td.DialContext(ctx, "tcp", endpoint.HostPort(address))
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", endpoint.HostPort(address))
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(env); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("send %s to %s: %w", env.Action, address, err)
	}
	conn.SetWriteDeadline(time.Time{})

	var resp Response
	if err := codec.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read %s response from %s: %w", env.Action, address, err)
	}
	if !resp.OK {
		return model.ParseFailure(resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := codec.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", env.Action, err)
		}
	}
	return nil
}
