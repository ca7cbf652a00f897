// Package daemon wires the registry, client table, RA parser and kernel
// integration together into the single-owner event loop described in
// spec.md §4.6. Every mutation of shared state happens on one goroutine
// (Dispatcher.Run); everything else is a reader goroutine that only
// forwards bytes through a channel, the idiomatic Go substitute for the
// original's single-threaded select() loop.
package daemon

import (
	"log"
	"net"

	"github.com/mpvd-tools/pvdd/internal/clientset"
	"github.com/mpvd-tools/pvdd/internal/icmpv6"
	"github.com/mpvd-tools/pvdd/internal/kernel"
	"github.com/mpvd-tools/pvdd/internal/ra"
	"github.com/mpvd-tools/pvdd/internal/registry"
)

// Resource caps from spec.md §5.
const (
	MaxClients        = 1024
	MaxAttrsPerPvd    = 128
	MaxPvds           = 1024
)

// Dispatcher owns the registry, the client table, and every socket the
// daemon reads from. It implements registry.Notifier so registry
// mutations turn directly into wire-protocol fan-out.
type Dispatcher struct {
	logger *log.Logger

	reg     *registry.Registry
	clients *clientset.Table

	listener net.Listener
	icmp     *icmpv6.Socket
	rt       *kernel.RtConn
	kconn    *kernel.Conn

	kernelAware bool

	acceptCh chan acceptResult
	clientCh chan clientRead
	raCh     chan raResult
	rtCh     chan rtResult

	done chan struct{}
}

type acceptResult struct {
	conn net.Conn
	err  error
}

type clientRead struct {
	client *clientset.Client
	data   []byte
	err    error
}

type raResult struct {
	info  *ra.Info
	src   net.IP
	iface string
	err   error
}

type rtResult struct {
	ev  *kernel.Event
	err error
}

// New constructs a Dispatcher around an already-bound listener. icmpSock,
// rt, and kconn may be nil: RA/kernel integration are each optional
// depending on the startup probe sequence in cmd/pvdd.
func New(logger *log.Logger, listener net.Listener, icmpSock *icmpv6.Socket, rt *kernel.RtConn, kconn *kernel.Conn, kernelAware bool) *Dispatcher {
	d := &Dispatcher{
		logger:      logger,
		listener:    listener,
		icmp:        icmpSock,
		rt:          rt,
		kconn:       kconn,
		kernelAware: kernelAware,
		clients:     clientset.NewTable(MaxClients),
		acceptCh:    make(chan acceptResult, 1),
		clientCh:    make(chan clientRead, 64),
		raCh:        make(chan raResult, 16),
		rtCh:        make(chan rtResult, 16),
		done:        make(chan struct{}),
	}
	d.reg = registry.New(logger, d, MaxPvds, MaxAttrsPerPvd)
	return d
}

// Run drives the event loop until the listener is closed. It starts the
// reader goroutines for every input source and then dispatches events
// one at a time on the calling goroutine, matching the run-to-completion
// dispatch rule in §5.
func (d *Dispatcher) Run() error {
	go d.acceptLoop()
	if d.icmp != nil {
		go d.icmpLoop()
	}
	if d.rt != nil {
		go d.rtLoop()
	}

	for {
		select {
		case a := <-d.acceptCh:
			if a.err != nil {
				return a.err
			}
			d.handleAccept(a.conn)
		case cr := <-d.clientCh:
			d.handleClientRead(cr)
		case rr := <-d.raCh:
			d.handleRA(rr)
		case rt := <-d.rtCh:
			d.handleRtEvent(rt)
		case <-d.done:
			return nil
		}
		d.clients.Compact()
	}
}

// Stop unblocks Run by closing the listener; in-flight client
// connections are left for the OS to tear down, matching the daemon's
// "no graceful drain" shutdown model (spec.md names no shutdown
// sequence beyond process exit).
func (d *Dispatcher) Stop() {
	close(d.done)
	d.listener.Close()
}

func (d *Dispatcher) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		d.acceptCh <- acceptResult{conn: conn, err: err}
		if err != nil {
			return
		}
	}
}

func (d *Dispatcher) handleAccept(conn net.Conn) {
	c := d.clients.Add(conn)
	if c == nil {
		d.logger.Printf("daemon: client table full (%d), refusing connection from %s", MaxClients, conn.RemoteAddr())
		conn.Close()
		return
	}
	go d.clientReadLoop(c)
}

func (d *Dispatcher) clientReadLoop(c *clientset.Client) {
	buf := make([]byte, 4096)
	for {
		n, err := c.Conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.clientCh <- clientRead{client: c, data: chunk}
		}
		if err != nil {
			d.clientCh <- clientRead{client: c, err: err}
			return
		}
	}
}

func (d *Dispatcher) handleClientRead(cr clientRead) {
	if cr.client.Dead() {
		return
	}
	if cr.err != nil {
		cr.client.MarkDead()
		return
	}
	frames := cr.client.Reader.Feed(cr.data)
	for _, f := range frames {
		d.dispatchFrame(cr.client, f)
		if cr.client.Dead() {
			return
		}
	}
}

func (d *Dispatcher) icmpLoop() {
	buf := make([]byte, 4096)
	for {
		data, src, ifaceName, err := d.icmp.ReadRA(buf)
		if err != nil {
			d.raCh <- raResult{err: err}
			continue
		}
		info, perr := ra.Parse(d.logger, data)
		if perr != nil {
			d.logger.Printf("daemon: dropping RA from %s: %v", src, perr)
			continue
		}
		d.raCh <- raResult{info: info, src: src, iface: ifaceName}
	}
}

func (d *Dispatcher) rtLoop() {
	for {
		ev, err := d.rt.Recv()
		d.rtCh <- rtResult{ev: ev, err: err}
	}
}

// SeedKernelPvd registers a PvD the startup enumeration in cmd/pvdd
// found already present in a PvD-aware kernel, before the event loop
// begins serving clients.
func (d *Dispatcher) SeedKernelPvd(a registry.KernelAttrs) {
	d.reg.RegisterKernel(a)
}

func (d *Dispatcher) logf(format string, args ...any) {
	if d.logger != nil {
		d.logger.Printf(format, args...)
	}
}
