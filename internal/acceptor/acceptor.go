// Package acceptor implements Accord's C6: it binds the listening
// socket and, for each accepted connection, spawns a wired reader and
// writer actor pair.
package acceptor

import (
	"fmt"
	"net"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/arbiter"
	"github.com/LoipesMas/accord/internal/conn"
	"github.com/LoipesMas/accord/internal/worker"
)

// Acceptor binds a listener and spawns a reader/writer actor pair per
// accepted socket, wired to a shared Arbiter. It is oblivious to the
// protocol itself.
type Acceptor struct {
	worker.Worker

	ln     net.Listener
	arb    *arbiter.Arbiter
	newLog func(name string) *logging.Logger
}

// Bind listens on addr (host:port, or ":<port>" for all interfaces).
func Bind(addr string, arb *arbiter.Arbiter, newLogger func(name string) *logging.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("acceptor: listen %s: %w", addr, err)
	}
	return &Acceptor{
		ln:     ln,
		arb:    arb,
		newLog: newLogger,
	}, nil
}

// Addr returns the listener's bound address.
func (a *Acceptor) Addr() net.Addr {
	return a.ln.Addr()
}

// Start launches the accept loop.
func (a *Acceptor) Start() {
	a.Go(a.run)
}

// Halt closes the listener (unblocking Accept) and waits for the
// accept loop to exit. In-flight connections are left to their own
// actors, which flush outstanding writes on Close per §4.3.
func (a *Acceptor) Halt() {
	a.ln.Close()
	a.Worker.Halt()
}

func (a *Acceptor) run() {
	log := a.newLog("acceptor")
	for {
		c, err := a.ln.Accept()
		if err != nil {
			select {
			case <-a.HaltCh():
				return
			default:
			}
			log.Errorf("accept failed: %v", err)
			return
		}

		addr := c.RemoteAddr().String()
		connLog := a.newLog(fmt.Sprintf("conn:%s", addr))

		w := conn.NewWriter(c, connLog)
		r := conn.NewReader(c, a.arb.Commands(), w.Queue(), connLog)
		w.Start()
		r.Start()
	}
}
