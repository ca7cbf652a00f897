//go:build !linux

package kernel

// Conn is the non-Linux stand-in: the PvD socket-option ABI this
// package binds is Linux-specific (an out-of-tree kernel module), so
// every operation here reports ErrUnsupportedPlatform. The daemon
// treats that identically to unix.ENOPROTOOPT on Linux: not fatal, a
// signal to fall back to the ICMPv6 RA-only path.
type Conn struct{}

// Open always succeeds; the returned Conn simply reports every
// operation as unsupported, which is sufficient for Probe's caller to
// select the RA-only path without needing a platform check of its own.
func Open() (*Conn, error) {
	return &Conn{}, nil
}

// Close is a no-op.
func (c *Conn) Close() error { return nil }

// Probe always returns ErrUnsupportedPlatform.
func (c *Conn) Probe() error { return ErrUnsupportedPlatform }

// EnumeratePvds always fails.
func (c *Conn) EnumeratePvds() ([]string, error) { return nil, ErrUnsupportedPlatform }

// GetAttributes always fails.
func (c *Conn) GetAttributes(name string) (Attrs, error) { return Attrs{}, ErrUnsupportedPlatform }

// CreatePvd always fails.
func (c *Conn) CreatePvd(name string) error { return ErrUnsupportedPlatform }

// UpdateAttr always fails.
func (c *Conn) UpdateAttr(name string, flags int32, seq int, hFlag, lFlag, deprecated bool) error {
	return ErrUnsupportedPlatform
}

// Bind always fails.
func (c *Conn) Bind(scope int, bindType BindType, name string) error {
	return ErrUnsupportedPlatform
}

// GetBoundPvd always fails.
func (c *Conn) GetBoundPvd(scope int) (string, bool, error) {
	return "", false, ErrUnsupportedPlatform
}
