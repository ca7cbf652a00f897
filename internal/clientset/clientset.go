// Package clientset implements the daemon's per-connection state: mode,
// subscriptions, in-flight transaction, and the table that holds every
// live client with mark-and-compact release semantics (§3, §4.3, §9's
// note on "client array + compaction").
package clientset

import (
	"io"
	"net"

	"github.com/mpvd-tools/pvdd/internal/wire"
)

// Notification mask bits. Subscribing with no explicit mask argument
// sets all three.
const (
	SubList = 1 << iota
	SubNewPvd
	SubDelPvd
	SubAll = SubList | SubNewPvd | SubDelPvd
)

// wildcardToken is the single glob this daemon supports.
const wildcardToken = "*"

// Client holds the state the dispatcher needs for one accepted
// connection. It owns no goroutine; the event loop drives it.
type Client struct {
	id int

	Conn   net.Conn
	Reader *wire.Reader
	Writer *wire.Writer

	subs map[string]bool
	mask int

	// txPvd is the name of the PvD this client has an open
	// BEGIN_TRANSACTION on, or "" if none.
	txPvd string

	dead bool
}

// New wraps conn as a fresh client in General mode with no
// subscriptions, matching the state assigned on accept (§4.6).
func New(id int, conn net.Conn) *Client {
	return &Client{
		id:     id,
		Conn:   conn,
		Reader: wire.NewReader(),
		Writer: wire.NewWriter(conn),
		subs:   make(map[string]bool),
	}
}

// ID is the table-stable identifier for this client, used for logging
// and for excluding a client from its own fan-out pass if ever needed.
func (c *Client) ID() int { return c.id }

// Mode reports the connection's current framing/kind mode.
func (c *Client) Mode() wire.Mode { return c.Writer.Mode() }

// Promote switches the connection mode. Promotion is enforced one-way
// by the dispatcher; Client itself just stores whatever it is told.
func (c *Client) Promote(m wire.Mode) { c.Writer.SetMode(m) }

// Subscribe adds token (a PvD name or "*") to the client's per-PvD
// interest set. Adding an existing token is a no-op.
func (c *Client) Subscribe(token string) {
	c.subs[token] = true
}

// Unsubscribe removes token. No-op if absent.
func (c *Client) Unsubscribe(token string) {
	delete(c.subs, token)
}

// Matches reports whether this client is interested in notifications for
// pvdName: either it subscribed to "*" or to pvdName specifically.
func (c *Client) Matches(pvdName string) bool {
	if c.subs[wildcardToken] {
		return true
	}
	return c.subs[pvdName]
}

// SetMask replaces the notification mask. Calling with mask==0 (the
// "subscribe with no argument" form) sets every bit per §4.3.
func (c *Client) SetMask(mask int) {
	if mask == 0 {
		mask = SubAll
	}
	c.mask = mask
}

// ClearMask unsubscribes from notifications entirely.
func (c *Client) ClearMask() {
	c.mask = 0
}

// HasMask reports whether bit is set in the client's notification mask.
func (c *Client) HasMask(bit int) bool {
	return c.mask&bit != 0
}

// BeginTx opens a transaction on pvdName. Returns false if one is
// already open (nested BEGIN is refused per §4.3).
func (c *Client) BeginTx(pvdName string) bool {
	if c.txPvd != "" {
		return false
	}
	c.txPvd = pvdName
	return true
}

// TxName returns the PvD name of the open transaction, or "" if none.
func (c *Client) TxName() string {
	return c.txPvd
}

// EndTx closes the transaction if name matches the one open. Returns
// false on a name mismatch, which is a hard client error per §4.3.
func (c *Client) EndTx(name string) bool {
	if c.txPvd != name {
		return false
	}
	c.txPvd = ""
	return true
}

// MarkDead flags the client for release; the table removes it at the
// next Compact.
func (c *Client) MarkDead() {
	if c.dead {
		return
	}
	c.dead = true
	_ = c.Conn.Close()
}

// Dead reports whether the client has been marked for release.
func (c *Client) Dead() bool { return c.dead }

// Write sends data to the client's connection, marking it dead on any
// I/O failure so the table releases it at the next safe point (§5, §7).
func (c *Client) Write(data []byte) error {
	if c.dead {
		return io.ErrClosedPipe
	}
	if _, err := c.Conn.Write(data); err != nil {
		c.MarkDead()
		return err
	}
	return nil
}

// WriteLine and WriteMultiLine route through the client's framing
// Writer, marking the client dead on failure.
func (c *Client) WriteLine(line string) error {
	if c.dead {
		return io.ErrClosedPipe
	}
	if err := c.Writer.WriteLine(line); err != nil {
		c.MarkDead()
		return err
	}
	return nil
}

func (c *Client) WriteMultiLine(body string) error {
	if c.dead {
		return io.ErrClosedPipe
	}
	if err := c.Writer.WriteMultiLine(body); err != nil {
		c.MarkDead()
		return err
	}
	return nil
}

// Table holds every live client, enforcing the daemon's concurrent
// connection cap and compacting dead entries after each loop iteration.
type Table struct {
	clients []*Client
	nextID  int
	max     int
}

// NewTable returns an empty Table capped at max concurrent clients.
func NewTable(max int) *Table {
	return &Table{max: max}
}

// Add allocates and returns a new Client for conn, or nil if the table
// is already at capacity (the caller must close conn in that case).
func (t *Table) Add(conn net.Conn) *Client {
	if len(t.clients) >= t.max {
		return nil
	}
	t.nextID++
	c := New(t.nextID, conn)
	t.clients = append(t.clients, c)
	return c
}

// All returns every client currently in the table, live or dead
// (callers needing only live clients should check Dead()).
func (t *Table) All() []*Client {
	return t.clients
}

// Len reports the number of entries, including any not-yet-compacted
// dead ones.
func (t *Table) Len() int {
	return len(t.clients)
}

// Compact removes dead entries, preserving the relative order of the
// survivors (stable, not swap-remove, so LIST-adjacent iteration order
// stays predictable for tests and logs).
func (t *Table) Compact() {
	live := t.clients[:0]
	for _, c := range t.clients {
		if !c.Dead() {
			live = append(live, c)
		}
	}
	t.clients = live
}
