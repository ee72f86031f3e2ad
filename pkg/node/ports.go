package node

import (
	"sync/atomic"

	"fabric-node/pkg/endpoint"
)

// PortAllocator hands out listener ports for auto-addressed route servers.
type PortAllocator interface {
	Next() int
}

type counter struct {
	next atomic.Int64
}

// NewPortAllocator counts up from first. Safe for concurrent use.
func NewPortAllocator(first int) PortAllocator {
	c := &counter{}
	c.next.Store(int64(first))
	return c
}

func (c *counter) Next() int {
	return int(c.next.Add(1) - 1)
}

// sharedPorts is the default allocator, shared by every Builder in the
// process so two builders never pick the same port.
var sharedPorts = NewPortAllocator(endpoint.FirstNodePort)
