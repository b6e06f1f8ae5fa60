// Package portalloc picks free loopback TCP ports for decoder sockets.
//
// A decoder is told which port to listen on in its configuration file, and
// the supervisor later connects to that port as a client. The port is
// chosen once per allocator and kept for its lifetime, so restarts of the
// decoder reuse it.
package portalloc

import (
	"math/rand/v2"
	"net"
	"strconv"
	"sync"
)

// Port range accepted by direwolf's KISS/AGW listeners.
const (
	MinPort = 1024
	MaxPort = 49151 // exclusive
)

// Allocator lazily allocates a single free port.
//
// Thread Safety:
//   - Port is safe for concurrent use; concurrent first calls agree on one port.
type Allocator struct {
	host string

	mu   sync.Mutex
	port int

	// Hooks replaced in tests.
	candidate func() int
	listen    func(network, address string) (net.Listener, error)
}

// New creates an Allocator probing ports on localhost.
func New() *Allocator {
	return &Allocator{
		host:      "localhost",
		candidate: func() int { return MinPort + rand.IntN(MaxPort-MinPort) },
		listen:    net.Listen,
	}
}

// Port returns the allocated port, choosing it on the first call.
//
// Candidates are drawn uniformly from [MinPort, MaxPort) and accepted when a
// listener can be bound and released on the loopback interface. Bind
// failures are retried with a new candidate without limit. The decoder may
// still lose a race for the port; that is resolved by the connect retries
// of the supervisor.
func (a *Allocator) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.port == 0 {
		port := a.candidate()
		ln, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close() //nolint:errcheck // probe listener only
		a.port = port
	}
	return a.port
}

// Allocated reports whether a port has been chosen yet.
func (a *Allocator) Allocated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port != 0
}
