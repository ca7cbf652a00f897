// Package pvdbind is the client-side kernel-bind API described in
// spec.md §4.7: binding a socket, thread, or process to a single PvD (or
// explicitly to none) via the same socket-option ABI the daemon uses to
// probe and configure the kernel.
package pvdbind

import "github.com/mpvd-tools/pvdd/internal/kernel"

// Scope selects which binding level SO_BINDTOPVD applies to.
type Scope int

const (
	Socket Scope = iota
	Thread
	Process
)

func (s Scope) kernelScope() int {
	switch s {
	case Thread:
		return kernel.ScopeThread
	case Process:
		return kernel.ScopeProcess
	default:
		return kernel.ScopeSocket
	}
}

// BindType selects the three bind behaviors in §4.7.
type BindType int

const (
	// Inherit clears any binding, reverting to the parent scope.
	Inherit BindType = iota
	// None forces the scope unbound regardless of parent.
	None
	// One forces the scope bound to a specific PvD name.
	One
)

func (b BindType) kernelType() kernel.BindType {
	switch b {
	case None:
		return kernel.BindNone
	case One:
		return kernel.BindOne
	default:
		return kernel.BindInherit
	}
}

// Binding owns the throwaway socket the bind/get calls are issued
// against; callers open one per process (or per thread/socket they want
// to configure) and close it when done.
type Binding struct {
	conn *kernel.Conn
}

// Open creates a Binding backed by a fresh kernel.Conn.
func Open() (*Binding, error) {
	c, err := kernel.Open()
	if err != nil {
		return nil, err
	}
	return &Binding{conn: c}, nil
}

// Close releases the underlying socket.
func (b *Binding) Close() error {
	return b.conn.Close()
}

// Bind applies bindType at scope, naming a PvD for BindType One.
func (b *Binding) Bind(scope Scope, bindType BindType, name string) error {
	return b.conn.Bind(scope.kernelScope(), bindType.kernelType(), name)
}

// GetBound is the relaxed getter from §4.7: ok is false, with a nil
// error, when scope is simply unbound.
func (b *Binding) GetBound(scope Scope) (name string, ok bool, err error) {
	return b.conn.GetBoundPvd(scope.kernelScope())
}
